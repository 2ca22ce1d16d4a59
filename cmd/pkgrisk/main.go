// Command pkgrisk scores npm packages for security risk.
package main

import (
	"github.com/joho/godotenv"

	"github.com/git-pkgs/pkgrisk/internal/app"
)

func main() {
	// Optional .env for registry tokens; absence is fine.
	_ = godotenv.Load()

	app.Execute()
}
