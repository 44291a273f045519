package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopology(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Shard
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "leader only",
			input: "0=leader0:5001",
			want: []Shard{
				{ID: 0, Leader: "leader0:5001", Followers: []string{}},
			},
		},
		{
			name:  "two shards sorted by id",
			input: "1=leader1:5001|follower1a:5000,0=leader0:5001|follower0a:5000|follower0b:5000",
			want: []Shard{
				{ID: 0, Leader: "leader0:5001", Followers: []string{"follower0a:5000", "follower0b:5000"}},
				{ID: 1, Leader: "leader1:5001", Followers: []string{"follower1a:5000"}},
			},
		},
		{
			name:  "whitespace trimmed",
			input: " 0 = a:1 | b:2 , ",
			want: []Shard{
				{ID: 0, Leader: "a:1", Followers: []string{"b:2"}},
			},
		},
		{
			name:    "missing equals",
			input:   "0",
			wantErr: true,
		},
		{
			name:    "non numeric id",
			input:   "x=a:1",
			wantErr: true,
		},
		{
			name:    "negative id",
			input:   "-1=a:1",
			wantErr: true,
		},
		{
			name:    "empty endpoint",
			input:   "0=a:1||b:2",
			wantErr: true,
		},
		{
			name:    "duplicate id",
			input:   "0=a:1,0=b:2",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopology(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Shards)
		})
	}
}

func TestTopology_Lookup(t *testing.T) {
	topo, err := ParseTopology("0=l0|f0a|f0b,1=l1|f1a")
	require.NoError(t, err)

	s, ok := topo.Shard(1)
	require.True(t, ok)
	assert.Equal(t, []string{"l1", "f1a"}, s.Endpoints())

	_, ok = topo.Shard(7)
	assert.False(t, ok)

	assert.Equal(t, []string{"0", "1"}, topo.RingIDs())
}

func TestShard_EndpointsDoesNotAlias(t *testing.T) {
	s := Shard{ID: 0, Leader: "l", Followers: make([]string, 1, 4)}
	s.Followers[0] = "f"

	eps := s.Endpoints()
	eps[1] = "changed"
	assert.Equal(t, "f", s.Followers[0])
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "leader defaults",
			args: []string{"--role", "leader", "--shard-id", "1"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, RoleLeader, c.Role)
				assert.Equal(t, 1, c.ShardID)
				assert.Equal(t, StorageDir, c.Storage)
				assert.Equal(t, "data", c.DataDir)
				assert.Equal(t, 10, c.RetryAttempts)
				assert.Equal(t, 2*time.Second, c.RetryDelay)
			},
		},
		{
			name: "follower from environment",
			env: map[string]string{
				"ROLE":          "follower",
				"LEADER_ADDR":   "leader0:5001",
				"POLL_INTERVAL": "250ms",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, RoleFollower, c.Role)
				assert.Equal(t, "leader0:5001", c.LeaderAddr)
				assert.Equal(t, 250*time.Millisecond, c.PollInterval)
			},
		},
		{
			name: "flag overrides environment",
			args: []string{"--leader", "flag:1"},
			env:  map[string]string{"ROLE": "follower", "LEADER_ADDR": "env:1"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "flag:1", c.LeaderAddr)
			},
		},
		{
			name: "coordinator topology",
			args: []string{"--role", "coordinator", "--shards", "0=l0|f0,1=l1"},
			check: func(t *testing.T, c *Config) {
				require.Len(t, c.Topology.Shards, 2)
				assert.Equal(t, 3, c.RingReplicas)
			},
		},
		{
			name: "s3 credentials",
			args: []string{"--role", "leader", "--storage", "s3", "--s3-endpoint", "minio:9000"},
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "minioadmin",
				"AWS_SECRET_ACCESS_KEY": "secret",
				"BUCKET":                "wal",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "minioadmin", c.S3AccessKey)
				assert.Equal(t, "secret", c.S3SecretKey)
				assert.Equal(t, "wal", c.S3Bucket)
				assert.Equal(t, 10, c.RetryPolicy().Attempts)
			},
		},
		{
			name: "s3 endpoint selects s3 storage",
			args: []string{"--role", "leader"},
			env:  map[string]string{"S3_ENDPOINT": "minio:9000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, StorageS3, c.Storage)
				assert.Equal(t, "minio:9000", c.S3Endpoint)
			},
		},
		{
			name: "explicit storage wins over endpoint",
			args: []string{"--role", "leader", "--storage", "memory", "--s3-endpoint", "minio:9000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, StorageMemory, c.Storage)
			},
		},
		{name: "missing role", wantErr: true},
		{name: "unknown role", args: []string{"--role", "primary"}, wantErr: true},
		{name: "follower without leader", args: []string{"--role", "follower"}, wantErr: true},
		{name: "coordinator without shards", args: []string{"--role", "coordinator"}, wantErr: true},
		{name: "s3 without endpoint", args: []string{"--role", "leader", "--storage", "s3"}, wantErr: true},
		{name: "unknown storage", args: []string{"--role", "leader", "--storage", "tape"}, wantErr: true},
		{name: "bad shard id", args: []string{"--role", "leader", "--shard-id", "one"}, wantErr: true},
		{name: "bad poll interval", args: []string{"--role", "follower", "--leader", "l:1", "--poll-interval", "soon"}, wantErr: true},
		{name: "unknown flag", args: []string{"--role", "leader", "--verbose"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, envMap(tt.env))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
