package obs

import (
	"encoding/json"
	"log"
	"maps"
	"os"
	"sync"
	"time"
)

const logService = "idgate"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger. Everything the service
// prints goes through it as single-line JSON tagged with the service name.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Event emits one structured log line. Caller-supplied fields win over the
// stamped ts, level, service and msg defaults.
func Event(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": logService,
		"msg":     msg,
	}
	maps.Copy(entry, fields)
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","service":"idgate","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogRequest emits the per-request access log line.
func LogRequest(fields map[string]any) {
	Event("info", "request_complete", fields)
}
