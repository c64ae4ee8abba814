//go:build swagger

package httpapi

import "github.com/swaggo/swag"

// docTemplate is the swagger document served at /swagger/doc.json. Keep it
// in step with the handlers in server.go.
const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/runsync": {
            "post": {
                "summary": "Run one animation job synchronously",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "job", "required": true, "schema": {"$ref": "#/definitions/types.JobRequest"}}
                ],
                "responses": {
                    "200": {"description": "Job result, success or error", "schema": {"$ref": "#/definitions/types.JobResponse"}},
                    "413": {"description": "Payload too large"},
                    "415": {"description": "Content-Type must be application/json"},
                    "503": {"description": "Model bundle failed to load"}
                }
            }
        },
        "/status": {
            "get": {
                "summary": "Worker status",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/healthz": {"get": {"summary": "Liveness", "responses": {"200": {"description": "ok"}}}},
        "/readyz": {
            "get": {
                "summary": "Readiness",
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading or error"}}
            }
        }
    },
    "definitions": {
        "types.JobRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "input": {
                    "type": "object",
                    "properties": {
                        "image": {"type": "string"},
                        "audio": {"type": "string"},
                        "options": {"type": "object"}
                    }
                }
            }
        },
        "types.JobResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"},
                "output": {"type": "object"},
                "error": {
                    "type": "object",
                    "properties": {
                        "kind": {"type": "string"},
                        "message": {"type": "string"},
                        "retryable": {"type": "boolean"}
                    }
                }
            }
        },
        "types.StatusResponse": {"type": "object"}
    }
}`

// SwaggerInfo holds the exported swagger metadata.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "hallod API",
	Description:      "Serverless worker that animates a portrait from a driving audio track.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
