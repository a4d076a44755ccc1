package docs

import _ "embed"

//go:embed console.openapi.yaml
var embeddedConsoleOpenAPI []byte

//go:embed swagger.html
var embeddedConsoleSwaggerHTML []byte

// ConsoleOpenAPI содержит OpenAPI-спецификацию консоли рассылок.
var ConsoleOpenAPI = embeddedConsoleOpenAPI

// ConsoleSwaggerHTML содержит HTML-страницу с Swagger UI.
var ConsoleSwaggerHTML = embeddedConsoleSwaggerHTML
