package config

import (
	"fmt"

	"github.com/ethpandaops/hwci/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

const redacted = "REDACTED"

// Redacted returns a copy with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c

	if c.Runner.Upload.S3 != nil {
		s3 := *c.Runner.Upload.S3
		if s3.AccessKeyID != "" {
			s3.AccessKeyID = redacted
		}

		if s3.SecretAccessKey != "" {
			s3.SecretAccessKey = redacted
		}

		out.Runner.Upload.S3 = &s3
	}

	if out.Runner.History.Postgres.Password != "" {
		out.Runner.History.Postgres.Password = redacted
	}

	return &out
}

// WriteSnapshot writes the resolved configuration, credentials masked, as
// YAML so a results directory records what produced it.
func (c *Config) WriteSnapshot(path string, owner *fsutil.Owner) error {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, owner); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	return nil
}
