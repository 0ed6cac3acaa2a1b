package handlers

import "github.com/labstack/echo/v4"

// Register mounts the versioned API routes on g
func Register(g *echo.Group, events *EventHandler, commissions *CommissionHandler, programs *ProgramHandler) {
	g.POST("/events/signup", events.Signup)
	g.POST("/events/purchase", events.Purchase)

	g.GET("/programs", programs.ListPrograms)
	g.GET("/programs/:program_id/commissions", commissions.List)
	g.GET("/programs/:program_id/graph", programs.Graph)

	g.POST("/programs/:program_id/circles", programs.CreateCircle)
	g.GET("/programs/:program_id/circles", programs.ListCircles)
	g.PUT("/programs/:program_id/circles/:circle_id/default", programs.SetDefaultCircle)
	g.DELETE("/programs/:program_id/circles/:circle_id", programs.DeleteCircle)
	g.GET("/circles/:circle_id", programs.GetCircle)
	g.PUT("/circles/:circle_id", programs.RenameCircle)

	g.POST("/circles/:circle_id/functions", programs.CreateFunction)
	g.PUT("/functions/:function_id", programs.UpdateFunction)
	g.DELETE("/functions/:function_id", programs.DeleteFunction)

	g.PUT("/programs/:program_id/promoters/:promoter_id/circle", programs.AssignPromoter)
	g.GET("/programs/:program_id/promoters/:promoter_id/circle", programs.PromoterCircle)
}
