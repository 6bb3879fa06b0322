package logging

import "time"

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
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

// Domain helpers

func Component(name string) Field {
	return String("component", name)
}

// Target names the database role a message refers to ("primary" or "standby").
func Target(role string) Field {
	return String("target", role)
}

func Step(name string) Field {
	return String("step", name)
}

func RunID(id string) Field {
	return String("run_id", id)
}

func Host(addr string) Field {
	return String("host", addr)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

// Elapsed reports seconds since the start of a bounded wait.
func Elapsed(d time.Duration) Field {
	return Float64("elapsed_s", d.Seconds())
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
