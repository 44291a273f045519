package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"tablestore/internal/blob"
	"tablestore/internal/replication"
	"tablestore/internal/ring"
)

// Role is the part a process plays in the cluster.
type Role string

const (
	RoleLeader      Role = "leader"
	RoleFollower    Role = "follower"
	RoleCoordinator Role = "coordinator"
)

// Storage backends for leader WALs.
const (
	StorageMemory = "memory"
	StorageDir    = "dir"
	StorageS3     = "s3"
	// StorageSegment keeps the WAL in a local append-only file instead of
	// a whole-object blob.
	StorageSegment = "segment"
)

// Shard is one replica group: a leader and its followers.
type Shard struct {
	ID        int
	Leader    string
	Followers []string
}

// Endpoints returns the leader followed by the followers, in order.
func (s Shard) Endpoints() []string {
	return append([]string{s.Leader}, s.Followers...)
}

// Topology is the static shard layout.
type Topology struct {
	Shards []Shard // sorted by ID
}

// ParseTopology parses a comma-separated list of shards in the format:
// "0=leader|follower|follower,1=leader|follower"
func ParseTopology(s string) (Topology, error) {
	if strings.TrimSpace(s) == "" {
		return Topology{}, nil
	}

	var shards []Shard
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Topology{}, fmt.Errorf("invalid shard format: %s (expected id=leader|follower...)", part)
		}

		id, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil || id < 0 {
			return Topology{}, fmt.Errorf("invalid shard id: %s", part)
		}

		endpoints := strings.Split(kv[1], "|")
		for i := range endpoints {
			endpoints[i] = strings.TrimSpace(endpoints[i])
			if endpoints[i] == "" {
				return Topology{}, fmt.Errorf("empty endpoint in shard %d: %s", id, part)
			}
		}

		if slices.IndexFunc(shards, func(sh Shard) bool { return sh.ID == id }) >= 0 {
			return Topology{}, fmt.Errorf("duplicate shard id: %d", id)
		}

		shards = append(shards, Shard{
			ID:        id,
			Leader:    endpoints[0],
			Followers: endpoints[1:],
		})
	}

	slices.SortFunc(shards, func(a, b Shard) int { return a.ID - b.ID })
	return Topology{Shards: shards}, nil
}

// Shard returns the shard with the given id.
func (t Topology) Shard(id int) (Shard, bool) {
	idx := slices.IndexFunc(t.Shards, func(s Shard) bool { return s.ID == id })
	if idx < 0 {
		return Shard{}, false
	}
	return t.Shards[idx], true
}

// RingIDs returns the shard ids as ring node ids.
func (t Topology) RingIDs() []string {
	ids := make([]string, 0, len(t.Shards))
	for _, s := range t.Shards {
		ids = append(ids, strconv.Itoa(s.ID))
	}
	return ids
}

// Config holds the process configuration. It is loaded once at startup.
type Config struct {
	Role       Role
	ShardID    int
	ListenAddr string
	HTTPAddr   string

	// Coordinator
	Topology     Topology
	RingReplicas int

	// Follower
	LeaderAddr   string
	PollInterval time.Duration

	// Leader
	Storage       string
	DataDir       string
	S3Endpoint    string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3Secure      bool
	RetryAttempts int
	RetryDelay    time.Duration
}

// Load parses command-line flags. Every flag falls back to an environment
// variable, read through getenv, when not given.
func Load(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	fs := flag.NewFlagSet("tablestore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		role     = fs.String("role", env("ROLE", ""), "process role: leader, follower or coordinator")
		shardID  = fs.String("shard-id", env("SHARD_ID", "0"), "shard id served by a leader or follower")
		listen   = fs.String("listen", env("LISTEN_ADDR", ":5001"), "gRPC listen address")
		httpAddr = fs.String("http", env("HTTP_ADDR", ""), "HTTP listen address (empty disables HTTP)")
		shards   = fs.String("shards", env("SHARDS", ""), "shard topology: 0=leader|follower|...,1=...")
		replicas = fs.String("ring-replicas", env("RING_REPLICAS", strconv.Itoa(ring.DefaultReplicas)), "virtual positions per shard on the hash ring")
		leader   = fs.String("leader", env("LEADER_ADDR", ""), "leader address a follower replicates from")
		poll     = fs.String("poll-interval", env("POLL_INTERVAL", replication.DefaultPollInterval.String()), "follower poll interval")
		storage  = fs.String("storage", env("STORAGE", ""), "WAL storage: memory, dir, s3 or segment (default s3 when an endpoint is set, dir otherwise)")
		dataDir  = fs.String("data-dir", env("DATA_DIR", "data"), "directory for dir and segment storage")
		s3End    = fs.String("s3-endpoint", env("S3_ENDPOINT", ""), "S3-compatible endpoint, host:port")
		s3Bucket = fs.String("s3-bucket", env("S3_BUCKET", env("BUCKET", "tablestore")), "bucket holding shard WALs")
		s3Secure = fs.Bool("s3-secure", env("S3_SECURE", "false") == "true", "use TLS for S3")
		attempts = fs.String("retry-attempts", env("RETRY_ATTEMPTS", strconv.Itoa(blob.DefaultAttempts)), "storage retry attempts")
		delay    = fs.String("retry-delay", env("RETRY_DELAY", blob.DefaultDelay.String()), "pause between storage retries")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *storage == "" {
		*storage = StorageDir
		if *s3End != "" {
			*storage = StorageS3
		}
	}

	cfg := &Config{
		Role:        Role(*role),
		ListenAddr:  *listen,
		HTTPAddr:    *httpAddr,
		LeaderAddr:  *leader,
		Storage:     *storage,
		DataDir:     *dataDir,
		S3Endpoint:  *s3End,
		S3Bucket:    *s3Bucket,
		S3AccessKey: getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey: getenv("AWS_SECRET_ACCESS_KEY"),
		S3Secure:    *s3Secure,
	}

	var err error
	if cfg.ShardID, err = strconv.Atoi(*shardID); err != nil {
		return nil, fmt.Errorf("invalid shard id %q: %w", *shardID, err)
	}
	if cfg.RingReplicas, err = strconv.Atoi(*replicas); err != nil {
		return nil, fmt.Errorf("invalid ring replicas %q: %w", *replicas, err)
	}
	if cfg.RetryAttempts, err = strconv.Atoi(*attempts); err != nil {
		return nil, fmt.Errorf("invalid retry attempts %q: %w", *attempts, err)
	}
	if cfg.PollInterval, err = time.ParseDuration(*poll); err != nil {
		return nil, fmt.Errorf("invalid poll interval %q: %w", *poll, err)
	}
	if cfg.RetryDelay, err = time.ParseDuration(*delay); err != nil {
		return nil, fmt.Errorf("invalid retry delay %q: %w", *delay, err)
	}
	if cfg.Topology, err = ParseTopology(*shards); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the configured role needs.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleLeader:
		switch c.Storage {
		case StorageMemory, StorageDir, StorageSegment:
		case StorageS3:
			if c.S3Endpoint == "" {
				return fmt.Errorf("s3 storage needs an endpoint")
			}
		default:
			return fmt.Errorf("unknown storage %q", c.Storage)
		}
		if c.RetryAttempts <= 0 {
			return fmt.Errorf("retry attempts must be positive")
		}
	case RoleFollower:
		if c.LeaderAddr == "" {
			return fmt.Errorf("follower needs a leader address")
		}
		if c.PollInterval <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
	case RoleCoordinator:
		if len(c.Topology.Shards) == 0 {
			return fmt.Errorf("coordinator needs at least one shard")
		}
		if c.RingReplicas <= 0 {
			return fmt.Errorf("ring replicas must be positive")
		}
	default:
		return fmt.Errorf("unknown role %q (expected leader, follower or coordinator)", c.Role)
	}
	return nil
}

// RetryPolicy returns the storage retry budget.
func (c *Config) RetryPolicy() blob.Policy {
	return blob.Policy{Attempts: c.RetryAttempts, Delay: c.RetryDelay}
}
