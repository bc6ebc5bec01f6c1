package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}

// Source names the flat file or partition a record stream came from.
func Source(name string) Field {
	return String("source", name)
}

func RunID(id string) Field {
	return String("run_id", id)
}

func Tick(tick int) Field {
	return Int("tick", tick)
}

// Line is the 1-based line number of a row within its source file.
func Line(n int) Field {
	return Int("line", n)
}

func Rows(n int64) Field {
	return Int64("rows", n)
}

func PID(pid int64) Field {
	return Int64("pid", pid)
}
