package configutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func decodeFile[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(contents, out)
}

// localVariant maps "config.json5" to "config.local.json5".
func localVariant(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return filepath.Join(dir, base[:i]+".local"+base[i:])
	}
	return filepath.Join(dir, base+".local")
}

// ReadConfig decodes a json5 config file. When a sibling
// "<name>.local.<ext>" file exists its values override the base file.
// Returns os.ErrNotExist when neither file is present.
func ReadConfig[T any](name string) (T, error) {
	var out T

	found, err := decodeFile(name, &out)
	if err != nil {
		return out, err
	}

	var override T
	localPath := localVariant(name)
	foundLocal, err := decodeFile(localPath, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively walks up from the working directory until it finds a
// config file matching name, then reads it with ReadConfig.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
