// Package docs provides generated OpenAPI documentation.
//
// Libretto API
//
//	@title			Libretto API
//	@version		1.0
//	@description	EPUB audiobook pipeline API for managing books, chapter audio, alignment, and export.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/librettohq/libretto
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/libretto/serve.go -o ./swagger --parseDependency --parseInternal
