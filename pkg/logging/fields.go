package logging

import "time"

// Generic field constructors

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers used across the coordination packages

func Component(name string) Field {
	return String("component", name)
}

func Node(id string) Field {
	return String("node", id)
}

func Peer(id string) Field {
	return String("peer", id)
}

func Term(t uint64) Field {
	return Uint64("term", t)
}

func Index(i uint64) Field {
	return Uint64("index", i)
}

func Incarnation(inc uint64) Field {
	return Uint64("incarnation", inc)
}

func Seq(s uint64) Field {
	return Uint64("seq", s)
}

func Key(k string) Field {
	return String("key", k)
}

func State(s string) Field {
	return String("state", s)
}

func Addr(a string) Field {
	return String("addr", a)
}

func Count(n int) Field {
	return Int("count", n)
}
