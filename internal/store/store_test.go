package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSNUsesConnStringVerbatimWhenSet(t *testing.T) {
	opt := Option{ConnString: "postgres://example/override"}
	dsn, err := opt.dsn()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://example/override", dsn)
}

func TestDSNDefaultsHostPortSSLMode(t *testing.T) {
	opt := Option{User: "mqk", Database: "mqkdb"}
	dsn, err := opt.dsn()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://mqk@localhost:5432/mqkdb?sslmode=disable", dsn)
}

func TestDSNIncludesExtraParams(t *testing.T) {
	opt := Option{Host: "db.internal", Port: 5433, Params: map[string]string{"connect_timeout": "5"}}
	dsn, err := opt.dsn()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5433?connect_timeout=5&sslmode=disable", dsn)
}

func TestDSNWithPasswordIncludesUserinfo(t *testing.T) {
	opt := Option{User: "mqk", Password: "secret", Host: "db", Database: "mqkdb"}
	dsn, err := opt.dsn()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://mqk:secret@db:5432/mqkdb?sslmode=disable", dsn)
}
