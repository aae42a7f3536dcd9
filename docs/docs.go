// Package docs registers the OpenAPI document served under /swagger/.
// It is maintained by hand alongside the handler annotations.
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
        "/api/formats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["catalog"],
                "summary": "List supported audio and output formats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.formatsResp"}}
                }
            }
        },
        "/api/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs, newest first",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobsResp"}}
                }
            }
        },
        "/api/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Delete a finished job and its output files",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.statusResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/jobs/{id}/download/{format}": {
            "get": {
                "produces": ["application/octet-stream"],
                "tags": ["jobs"],
                "summary": "Download an output file",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "txt, srt, vtt or json", "name": "format", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["catalog"],
                "summary": "List transcription models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.modelsResp"}}
                }
            }
        },
        "/api/transcribe": {
            "post": {
                "description": "Stores the upload and enqueues a pending job.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Upload an audio file for transcription",
                "parameters": [
                    {"type": "file", "description": "audio file", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "model (tiny, base, small, medium, large, large-v2, large-v3)", "name": "model", "in": "query"},
                    {"type": "string", "description": "comma-separated output formats, e.g. txt,srt", "name": "output_formats", "in": "query"},
                    {"type": "string", "description": "language code or auto", "name": "language", "in": "query"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.submitResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/transcribe/batch": {
            "post": {
                "description": "Unsupported files are skipped and reported.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Upload several audio files",
                "parameters": [
                    {"type": "file", "description": "audio files", "name": "files", "in": "formData", "required": true},
                    {"type": "string", "description": "model", "name": "model", "in": "query"},
                    {"type": "string", "description": "comma-separated output formats", "name": "output_formats", "in": "query"},
                    {"type": "string", "description": "language code or auto", "name": "language", "in": "query"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.batchResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/watch/start": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["watch"],
                "summary": "Start watching a folder for new audio files",
                "parameters": [
                    {"description": "folder to watch (defaults to the configured folder)", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/httptransport.watchStartDTO"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.statusResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/watch/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["watch"],
                "summary": "Folder watcher status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/watcher.Status"}}
                }
            }
        },
        "/api/watch/stop": {
            "post": {
                "produces": ["application/json"],
                "tags": ["watch"],
                "summary": "Stop folder watching",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.statusResp"}}
                }
            }
        },
        "/ws": {
            "get": {
                "description": "Upgrades to a websocket that receives one JSON job snapshot per\nmessage. Only changes after connecting are sent; use GET /api/jobs to resync.",
                "tags": ["jobs"],
                "summary": "Live job updates",
                "responses": {}
            }
        }
    },
    "definitions": {
        "entity.Job": {
            "type": "object",
            "properties": {
                "completed_at": {"type": "string"},
                "created_at": {"type": "string"},
                "filename": {"type": "string"},
                "id": {"type": "string"},
                "message": {"type": "string"},
                "options": {"$ref": "#/definitions/entity.Options"},
                "output_formats": {"type": "array", "items": {"type": "string"}},
                "progress": {"type": "number"},
                "result": {"$ref": "#/definitions/entity.Result"},
                "source": {"type": "string"},
                "source_path": {"type": "string"},
                "status": {"type": "string"},
                "updated_at": {"type": "string"},
                "version": {"type": "integer"}
            }
        },
        "entity.Options": {
            "type": "object",
            "properties": {
                "formats": {"type": "array", "items": {"type": "string"}},
                "language": {"type": "string"},
                "model": {"type": "string"}
            }
        },
        "entity.Result": {
            "type": "object",
            "properties": {
                "duration": {"type": "number"},
                "files": {"type": "object", "additionalProperties": {"type": "string"}},
                "language": {"type": "string"},
                "model": {"type": "string"},
                "segments": {"type": "array", "items": {"$ref": "#/definitions/entity.Segment"}},
                "text": {"type": "string"}
            }
        },
        "entity.Segment": {
            "type": "object",
            "properties": {
                "end": {"type": "number"},
                "id": {"type": "integer"},
                "start": {"type": "number"},
                "text": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "httptransport.batchResp": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "job_ids": {"type": "array", "items": {"type": "string"}},
                "skipped": {"type": "array", "items": {"$ref": "#/definitions/httptransport.skippedFile"}}
            }
        },
        "httptransport.formatsResp": {
            "type": "object",
            "properties": {
                "audio_formats": {"type": "array", "items": {"type": "string"}},
                "output_formats": {"type": "array", "items": {"type": "string"}}
            }
        },
        "httptransport.jobsResp": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/entity.Job"}}
            }
        },
        "httptransport.modelsResp": {
            "type": "object",
            "properties": {
                "default": {"type": "string"},
                "models": {"type": "array", "items": {"type": "string"}}
            }
        },
        "httptransport.skippedFile": {
            "type": "object",
            "properties": {
                "filename": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "httptransport.statusResp": {
            "type": "object",
            "properties": {
                "path": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "httptransport.submitResp": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "httptransport.watchStartDTO": {
            "type": "object",
            "properties": {
                "path": {"type": "string"}
            }
        },
        "watcher.Status": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "path": {"type": "string"},
                "submitted": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Transcriber API",
	Description:      "Speech-to-text job service: upload audio, follow progress, download transcripts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
