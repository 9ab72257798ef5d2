package domain

import "strings"

// SourcePlaceholder is replaced by the source file name inside command templates.
const SourcePlaceholder = "{source}"

// WorkDirPlaceholder is replaced by the sandbox-visible working directory
// inside recipe environment values.
const WorkDirPlaceholder = "{workdir}"

// CachePlaceholder is replaced by the sandbox-visible build cache directory
// inside recipe environment values. Without a mounted cache it falls back to
// a directory inside the workspace.
const CachePlaceholder = "{cache}"

// Recipe describes how to build and run programs of one language.
// Recipes are created at startup and never mutated afterwards.
type Recipe struct {
	ID                   string
	Name                 string
	Version              string
	FileExtension        string
	SourceFile           string
	CompileCommand       []string
	RunCommand           []string
	DefaultTimeoutMs     int
	DefaultMemoryLimitMb int
	CompileTimeoutMs     int
	Image                string
	Env                  []string
	// BuildCache names a cache directory shared by every compilation of
	// this language. It is mounted only while compiling.
	BuildCache string
	// WarmCommand fills the build cache once at startup.
	WarmCommand []string
}

// Compiled reports whether the recipe has a separate compile step.
func (r Recipe) Compiled() bool {
	return len(r.CompileCommand) > 0
}

// SourceFileName returns the file the source code is written to.
func (r Recipe) SourceFileName() string {
	if r.SourceFile != "" {
		return r.SourceFile
	}
	return "main" + r.FileExtension
}

// CompileArgs expands the compile command template.
func (r Recipe) CompileArgs() []string {
	return r.expand(r.CompileCommand)
}

// RunArgs expands the run command template.
func (r Recipe) RunArgs() []string {
	return r.expand(r.RunCommand)
}

func (r Recipe) expand(tmpl []string) []string {
	if len(tmpl) == 0 {
		return nil
	}
	src := r.SourceFileName()
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		out[i] = strings.ReplaceAll(arg, SourcePlaceholder, src)
	}
	return out
}

// Limits resolves the effective limits for a run: positive overrides win,
// anything else falls back to the recipe defaults.
func (r Recipe) Limits(timeoutMs, memoryLimitMb int) Limits {
	l := Limits{TimeoutMs: r.DefaultTimeoutMs, MemoryLimitMb: r.DefaultMemoryLimitMb}
	if timeoutMs > 0 {
		l.TimeoutMs = timeoutMs
	}
	if memoryLimitMb > 0 {
		l.MemoryLimitMb = memoryLimitMb
	}
	return l
}
