package scripts

import "regexp"

// Pattern categories are compiled once at rule construction and never
// exposed mutably. Ordering matters only for the high-risk list, which
// short-circuits on the first match.

// highRiskPatterns detect remote-execute behavior: fetched content fed
// straight into an interpreter.
var highRiskPatterns = []*regexp.Regexp{
	// download tool piped into a shell or node
	regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;&]*\|\s*(sh|bash|zsh|dash|node)\b`),
	// eval/Function over output of a network fetch
	regexp.MustCompile(`(?i)\b(eval|Function)\s*\(.*(curl|wget|fetch|https?://)`),
}

// suspiciousPatterns are independent single-point signals; every match
// adds one to the script's risk.
var suspiciousPatterns = []*regexp.Regexp{
	// network CLI tools
	regexp.MustCompile(`(?i)\b(curl|wget|nc|netcat)\b`),
	// network client library requires
	regexp.MustCompile(`require\s*\(\s*['"](https?|net|dgram|dns)['"]\s*\)`),
	// direct fetch / XHR calls
	regexp.MustCompile(`\bfetch\s*\(|XMLHttpRequest`),
	// generic download keyword
	regexp.MustCompile(`(?i)\bdownload\b`),
	// dynamic code execution
	regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
	// process spawning
	regexp.MustCompile(`child_process|\bexec(Sync)?\s*\(|\bspawn(Sync)?\s*\(`),
}

// obfuscationPatterns add two each when present at least once,
// regardless of how often they match.
var obfuscationPatterns = []*regexp.Regexp{
	// long base64-looking runs
	regexp.MustCompile(`[A-Za-z0-9+/=]{50,}`),
	// hex escape sequences
	regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){4,}`),
	// char-code array construction
	regexp.MustCompile(`String\.fromCharCode|\bfromCharCode\s*\(`),
	// nested eval
	regexp.MustCompile(`eval\s*\(\s*eval\s*\(`),
	// single-letter identifiers delimited with $
	regexp.MustCompile(`\b[a-zA-Z]\$[a-zA-Z0-9]+\$`),
}

// chainingPattern counts command separators; three or more in one
// script flag an unusually long compound command.
var chainingPattern = regexp.MustCompile(`&&|\|\||;`)

const chainingThreshold = 3
