package utils

import (
	"context"
	"testing"
	"time"
)

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379", ReadTimeout: 5 * time.Second}.withDefaults()
	if c.ReadTimeout != 5*time.Second {
		t.Fatalf("explicit value must survive defaults")
	}
	if c.WriteTimeout != time.Second || c.PoolSize != 20 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestKeyspace_Key(t *testing.T) {
	if got := Keyspace("acme").Key("agent", "a1"); got != "acme:agent:a1" {
		t.Fatalf("got %q", got)
	}
	if got := Keyspace("").Key("event", "k"); got != "router:event:k" {
		t.Fatalf("empty keyspace: got %q", got)
	}
}
