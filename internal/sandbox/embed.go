package sandbox

import (
	"embed"

	"github.com/dop251/goja"
)

//go:embed js/*.js
var jsFiles embed.FS

// mustReadJSFile reads an embedded JS file and panics on error.
// The files are embedded at compile time, so a failure is a build defect.
func mustReadJSFile(path string) string {
	content, err := jsFiles.ReadFile(path)
	if err != nil {
		panic("failed to read embedded JS file " + path + ": " + err.Error())
	}
	return string(content)
}

// bootstrapProgram is the guest-side shim evaluated once per session at
// surface install. It is compiled once at package load, never constructed
// from strings at runtime.
var bootstrapProgram = goja.MustCompile("bootstrap.js", mustReadJSFile("js/bootstrap.js"), false)
