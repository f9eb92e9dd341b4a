package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotEnv is the file LoadDotEnv looks for in the working directory.
const DefaultDotEnv = ".env"

// LoadDotEnv loads path into the process environment if the file exists.
// Variables already set in the environment win. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("error loading %s file: %w", path, err)
	}
	return true, nil
}
