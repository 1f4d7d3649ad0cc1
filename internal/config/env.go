package config

import (
	"os"
	"path/filepath"
)

const envSearchDepth = 6

// findEnvFile looks for a .env file in the working directory and up to
// envSearchDepth parents. An empty path means none was found.
func findEnvFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findEnvFileFrom(dir), nil
}

func findEnvFileFrom(dir string) string {
	for i := 0; i < envSearchDepth; i++ {
		path := filepath.Join(dir, ".env")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
