// Package docs registers the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events/signup": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Events"],
                "summary": "Evaluate a signup conversion",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SignupRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/rules.Outcome"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/events/purchase": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Events"],
                "summary": "Evaluate a purchase conversion",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PurchaseRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/rules.Outcome"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/programs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Programs"],
                "summary": "List programs that have circles",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"type": "string"}}}}
            }
        },
        "/programs/{program_id}/commissions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Commissions"],
                "summary": "List commissions of a program",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"type": "string", "name": "promoter_id", "in": "query"},
                    {"type": "string", "name": "contact_id", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.CommissionListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/programs/{program_id}/graph": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Programs"],
                "summary": "Validate a program's circle graph",
                "parameters": [{"type": "string", "name": "program_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/rules.GraphReport"}}}
            }
        },
        "/programs/{program_id}/circles": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Circles"],
                "summary": "List a program's circles with their functions",
                "parameters": [{"type": "string", "name": "program_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.CircleListResponse"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Circles"],
                "summary": "Create a circle in a program",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/program.CreateCircleInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/rules.Circle"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/programs/{program_id}/circles/{circle_id}": {
            "delete": {
                "tags": ["Circles"],
                "summary": "Delete an unused circle",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"type": "string", "name": "circle_id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/programs/{program_id}/circles/{circle_id}/default": {
            "put": {
                "produces": ["application/json"],
                "tags": ["Circles"],
                "summary": "Make a circle the program default",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"type": "string", "name": "circle_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SuccessResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/circles/{circle_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Circles"],
                "summary": "Get a circle",
                "parameters": [{"type": "string", "name": "circle_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/rules.Circle"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Circles"],
                "summary": "Rename a circle",
                "parameters": [
                    {"type": "string", "name": "circle_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RenameCircleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SuccessResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/circles/{circle_id}/functions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Functions"],
                "summary": "Append a function to a circle",
                "parameters": [
                    {"type": "string", "name": "circle_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/rules.Function"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/rules.Function"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/functions/{function_id}": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Functions"],
                "summary": "Replace a function in place",
                "parameters": [
                    {"type": "string", "name": "function_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/rules.Function"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/rules.Function"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["Functions"],
                "summary": "Delete a function",
                "parameters": [{"type": "string", "name": "function_id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/programs/{program_id}/promoters/{promoter_id}/circle": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Promoters"],
                "summary": "Get a promoter's current circle",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"type": "string", "name": "promoter_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PromoterCircleResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Promoters"],
                "summary": "Move a promoter to a circle",
                "parameters": [
                    {"type": "string", "name": "program_id", "in": "path", "required": true},
                    {"type": "string", "name": "promoter_id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AssignPromoterRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PromoterCircleResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "models.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "message": {"type": "string"}}
        },
        "models.SuccessResponse": {
            "type": "object",
            "properties": {"success": {"type": "boolean"}, "message": {"type": "string"}}
        },
        "models.CommissionListResponse": {
            "type": "object",
            "properties": {
                "commissions": {"type": "array", "items": {"$ref": "#/definitions/rules.Commission"}},
                "count": {"type": "integer"}
            }
        },
        "models.CircleListResponse": {
            "type": "object",
            "properties": {
                "circles": {"type": "array", "items": {"$ref": "#/definitions/rules.Circle"}},
                "count": {"type": "integer"}
            }
        },
        "handlers.SignupRequest": {
            "type": "object",
            "properties": {
                "source_event_id": {"type": "string"},
                "program_id": {"type": "string"},
                "contact_id": {"type": "string"},
                "promoter_id": {"type": "string"},
                "link_id": {"type": "string"},
                "external_id": {"type": "string"},
                "occurred_at": {"type": "string", "format": "date-time"},
                "utm_params": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.PurchaseRequest": {
            "type": "object",
            "properties": {
                "source_event_id": {"type": "string"},
                "program_id": {"type": "string"},
                "contact_id": {"type": "string"},
                "promoter_id": {"type": "string"},
                "link_id": {"type": "string"},
                "item_id": {"type": "string"},
                "amount": {"type": "number"},
                "external_id": {"type": "string"},
                "occurred_at": {"type": "string", "format": "date-time"},
                "utm_params": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.RenameCircleRequest": {
            "type": "object",
            "properties": {"name": {"type": "string"}}
        },
        "handlers.AssignPromoterRequest": {
            "type": "object",
            "properties": {"circle_id": {"type": "string"}}
        },
        "handlers.PromoterCircleResponse": {
            "type": "object",
            "properties": {"program_id": {"type": "string"}, "promoter_id": {"type": "string"}, "circle_id": {"type": "string"}}
        },
        "program.CreateCircleInput": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "is_default": {"type": "boolean"}}
        },
        "rules.Condition": {
            "type": "object",
            "properties": {
                "parameter": {"type": "string", "enum": ["REVENUE", "NUM_OF_SIGNUPS", "NUM_OF_PURCHASES", "ITEM_ID"]},
                "operator": {"type": "string", "enum": ["GREATER_THAN_OR_EQUAL_TO", "LESS_THAN_OR_EQUAL_TO", "GREATER_THAN", "LESS_THAN", "EQUALS", "CONTAINS"]},
                "value": {}
            }
        },
        "rules.Function": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "circle_id": {"type": "string"},
                "position": {"type": "integer"},
                "trigger": {"type": "string", "enum": ["SIGNUP", "PURCHASE"]},
                "status": {"type": "string", "enum": ["ACTIVE", "INACTIVE"]},
                "effect_type": {"type": "string", "enum": ["GENERATE_COMMISSION", "SWITCH_CIRCLE"]},
                "effect": {"type": "object"},
                "conditions": {"type": "array", "items": {"$ref": "#/definitions/rules.Condition"}},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "rules.Circle": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "program_id": {"type": "string"},
                "name": {"type": "string"},
                "is_default": {"type": "boolean"},
                "functions": {"type": "array", "items": {"$ref": "#/definitions/rules.Function"}},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "rules.Commission": {
            "type": "object",
            "properties": {
                "commission_id": {"type": "string"},
                "source_event_id": {"type": "string"},
                "function_id": {"type": "string"},
                "program_id": {"type": "string"},
                "contact_id": {"type": "string"},
                "promoter_id": {"type": "string"},
                "link_id": {"type": "string"},
                "conversion_type": {"type": "string"},
                "amount": {"type": "number"},
                "revenue": {"type": "number"},
                "external_id": {"type": "string"},
                "occurred_at": {"type": "string", "format": "date-time"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "rules.Outcome": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["COMMISSION_CREATED", "CIRCLE_SWITCHED", "NO_MATCH"]},
                "source_event_id": {"type": "string"},
                "circle_id": {"type": "string"},
                "function_id": {"type": "string"},
                "commission": {"$ref": "#/definitions/rules.Commission"},
                "new_circle_id": {"type": "string"},
                "duplicate": {"type": "boolean"}
            }
        },
        "rules.GraphReport": {
            "type": "object",
            "properties": {
                "program_id": {"type": "string"},
                "default_circle_id": {"type": "string"},
                "edges": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "string"}}},
                "unreachable": {"type": "array", "items": {"type": "string"}},
                "has_cycle": {"type": "boolean"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Commission Engine API",
	Description:      "Affiliate commission rules: circles, functions and conversion evaluation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
