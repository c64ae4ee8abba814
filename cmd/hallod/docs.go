package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/swagger_docs.go (build with -tags=swagger).
//
// @title           hallod API
// @version         1.0
// @description     Serverless worker that animates a portrait from a driving audio track.
//
// @contact.name   hallod maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
