package logging

// DefaultPath returns where the log file goes when none is configured.
func DefaultPath() (string, error) {
	return "C:\\Program Files\\crisis-stream\\log\\crisis-stream.log", nil
}
