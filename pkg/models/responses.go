package models

import "github.com/jordanlanch/commissionengine/pkg/rules"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
}

// CommissionListResponse wraps a page of commissions
type CommissionListResponse struct {
	Commissions []rules.Commission `json:"commissions"`
	Count       int                `json:"count"`
}

// CircleListResponse wraps a program's circles
type CircleListResponse struct {
	Circles []rules.Circle `json:"circles"`
	Count   int            `json:"count"`
}
