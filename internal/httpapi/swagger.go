//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo describes the API served under /swagger/.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "wundot API",
	Description:      "Pooled generation, sampling policy and streaming sessions over a single loaded model.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI at /swagger/ and the document at /swagger/doc.json.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

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
        "/generate": {"post": {"tags": ["generate"], "summary": "Generate a completion", "consumes": ["application/json"], "produces": ["application/json"],
            "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}}, "400": {"description": "Bad Request"}, "429": {"description": "Too Many Requests"}, "503": {"description": "Service Unavailable"}}}},
        "/policy": {
            "get": {"tags": ["policy"], "summary": "Current sampling policy", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PolicyResponse"}}}},
            "put": {"tags": ["policy"], "summary": "Replace the sampling policy", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.PolicyRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PolicyResponse"}}, "400": {"description": "Bad Request"}}}},
        "/profiles": {"get": {"tags": ["policy"], "summary": "List profile names", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProfilesResponse"}}}}},
        "/profiles/{name}": {"get": {"tags": ["policy"], "summary": "Resolve a profile", "produces": ["application/json"],
            "parameters": [{"in": "path", "name": "name", "type": "string", "required": true}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PolicyResponse"}}, "404": {"description": "Not Found"}}}},
        "/streams": {"post": {"tags": ["streams"], "summary": "Open a streaming session", "consumes": ["application/json"], "produces": ["application/json"],
            "parameters": [{"in": "body", "name": "request", "schema": {"$ref": "#/definitions/types.StreamOpenRequest"}}],
            "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/types.StreamOpenResponse"}}, "503": {"description": "Service Unavailable"}}}},
        "/streams/{id}": {"delete": {"tags": ["streams"], "summary": "Close a stream",
            "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
            "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}}}},
        "/streams/{id}/feed": {"post": {"tags": ["streams"], "summary": "Start a stream on a prompt", "consumes": ["application/json"],
            "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}, {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.StreamFeedRequest"}}],
            "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}}}},
        "/streams/{id}/next": {"post": {"tags": ["streams"], "summary": "Next fragment of a stream", "produces": ["application/json"],
            "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StreamNextResponse"}}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}},
        "/models": {"get": {"tags": ["models"], "summary": "List models", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}}},
        "/status": {"get": {"tags": ["status"], "summary": "Service status", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}}
    },
    "definitions": {
        "types.Policy": {"type": "object", "properties": {
            "temperature": {"type": "number", "example": 0.25}, "top_p": {"type": "number", "example": 0.85}, "top_k": {"type": "integer", "example": 30},
            "repeat_penalty": {"type": "number", "example": 1.3}, "presence_penalty": {"type": "number", "example": 0.3}, "frequency_penalty": {"type": "number", "example": 0.4},
            "mirostat": {"type": "integer", "example": 0}, "max_tokens": {"type": "integer", "example": 256}, "stop": {"type": "array", "items": {"type": "string"}}}},
        "types.GenerateRequest": {"type": "object", "properties": {
            "system": {"type": "string"}, "history": {"type": "string"}, "prompt": {"type": "string"}, "profile": {"type": "string"},
            "policy": {"$ref": "#/definitions/types.Policy"}, "max_tokens": {"type": "integer"}}},
        "types.GenerateResponse": {"type": "object", "properties": {
            "text": {"type": "string"}, "tokens": {"type": "integer"}, "prompt_tokens": {"type": "integer"}, "finish_reason": {"type": "string"}, "duration_ms": {"type": "integer"}}},
        "types.PolicyRequest": {"type": "object", "properties": {"profile": {"type": "string"}, "policy": {"$ref": "#/definitions/types.Policy"}}},
        "types.PolicyResponse": {"type": "object", "properties": {"profile": {"type": "string"}, "policy": {"$ref": "#/definitions/types.Policy"}}},
        "types.ProfilesResponse": {"type": "object", "properties": {"profiles": {"type": "array", "items": {"type": "string"}}}},
        "types.StreamOpenRequest": {"type": "object", "properties": {"model": {"type": "string"}}},
        "types.StreamOpenResponse": {"type": "object", "properties": {"id": {"type": "string"}}},
        "types.StreamFeedRequest": {"type": "object", "properties": {"prompt": {"type": "string"}}},
        "types.StreamNextResponse": {"type": "object", "properties": {"text": {"type": "string"}, "done": {"type": "boolean"}}},
        "types.ModelsResponse": {"type": "object", "properties": {"models": {"type": "array", "items": {"type": "object"}}}},
        "types.StatusResponse": {"type": "object", "properties": {
            "state": {"type": "string"}, "model_id": {"type": "string"}, "model_path": {"type": "string"}, "profile": {"type": "string"},
            "policy": {"$ref": "#/definitions/types.Policy"}, "open_streams": {"type": "integer"}, "uptime_seconds": {"type": "integer"}}}
    }
}`
