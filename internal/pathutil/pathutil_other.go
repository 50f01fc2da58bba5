//go:build !windows

package pathutil

func isWindows() bool { return false }

func tryResolveUNCPath(path string) (string, bool) { return "", false }
