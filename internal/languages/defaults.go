package languages

import "github.com/Harsh-BH/sentinel-judge/internal/domain"

const (
	defaultTimeoutMs     = 5000
	defaultMemoryLimitMb = 256
	compileTimeoutMs     = 10000
)

// Defaults returns the built-in language recipes.
func Defaults() []domain.Recipe {
	return []domain.Recipe{
		{
			ID:                   "python",
			Name:                 "Python",
			Version:              "3.12",
			FileExtension:        ".py",
			RunCommand:           []string{"python3", "-u", domain.SourcePlaceholder},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: defaultMemoryLimitMb,
			Image:                "python:3.12-slim",
			Env:                  []string{"PYTHONDONTWRITEBYTECODE=1"},
		},
		{
			ID:                   "javascript",
			Name:                 "JavaScript",
			Version:              "Node.js 20",
			FileExtension:        ".js",
			RunCommand:           []string{"node", domain.SourcePlaceholder},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: defaultMemoryLimitMb,
			Image:                "node:20-slim",
		},
		{
			ID:                   "c",
			Name:                 "C",
			Version:              "GCC 13",
			FileExtension:        ".c",
			CompileCommand:       []string{"gcc", "-O2", "-std=c17", "-o", "main", domain.SourcePlaceholder, "-lm"},
			RunCommand:           []string{"./main"},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: defaultMemoryLimitMb,
			CompileTimeoutMs:     compileTimeoutMs,
			Image:                "gcc:13",
		},
		{
			ID:                   "cpp",
			Name:                 "C++",
			Version:              "GCC 13",
			FileExtension:        ".cpp",
			CompileCommand:       []string{"g++", "-O2", "-std=c++17", "-o", "main", domain.SourcePlaceholder},
			RunCommand:           []string{"./main"},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: defaultMemoryLimitMb,
			CompileTimeoutMs:     compileTimeoutMs,
			Image:                "gcc:13",
		},
		{
			ID:                   "java",
			Name:                 "Java",
			Version:              "21",
			FileExtension:        ".java",
			SourceFile:           "Main.java",
			CompileCommand:       []string{"javac", domain.SourcePlaceholder},
			RunCommand:           []string{"java", "-Xss64m", "-cp", ".", "Main"},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: 512,
			CompileTimeoutMs:     compileTimeoutMs,
			Image:                "eclipse-temurin:21",
		},
		{
			ID:                   "go",
			Name:                 "Go",
			Version:              "1.23",
			FileExtension:        ".go",
			CompileCommand:       []string{"go", "build", "-o", "main", domain.SourcePlaceholder},
			RunCommand:           []string{"./main"},
			DefaultTimeoutMs:     defaultTimeoutMs,
			DefaultMemoryLimitMb: defaultMemoryLimitMb,
			CompileTimeoutMs:     compileTimeoutMs,
			Image:                "golang:1.23",
			// A cold cache rebuilds the standard library on every submission.
			BuildCache:  "go-build",
			WarmCommand: []string{"go", "build", "-p", "2", "std"},
			Env: []string{
				"GOCACHE=" + domain.CachePlaceholder,
				"GOPATH=" + domain.WorkDirPlaceholder + "/.gopath",
				"HOME=" + domain.WorkDirPlaceholder,
				"CGO_ENABLED=0",
				"GO111MODULE=off",
			},
		},
	}
}
