package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringBasic(t *testing.T) {
	spec, err := ParseConnectionString("couchbase://a,b:11211/mybucket?operation_timeout=5s")
	require.NoError(t, err)
	require.Equal(t, "couchbase", spec.Scheme)
	require.Equal(t, "mybucket", spec.Bucket)
	require.Len(t, spec.Hosts, 2)
	require.Equal(t, "a", spec.Hosts[0].Host)
	require.Equal(t, 11210, spec.Hosts[0].Port)
	require.Equal(t, "b", spec.Hosts[1].Host)
	require.Equal(t, 11211, spec.Hosts[1].Port)
	require.Equal(t, "5s", spec.Options["operation_timeout"])
}

func TestParseConnectionStringHTTPOnlySuffix(t *testing.T) {
	spec, err := ParseConnectionString("couchbase://a:p=8091")
	require.NoError(t, err)
	require.True(t, spec.Hosts[0].HTTPOnly)
	require.Equal(t, 8091, spec.Hosts[0].Port)
}

func TestParseConnectionStringCouchbasesDefaults(t *testing.T) {
	spec, err := ParseConnectionString("couchbases://secure-host")
	require.NoError(t, err)
	require.Equal(t, 11207, spec.Hosts[0].Port)
}

func TestParseConnectionStringRejectsUnknownScheme(t *testing.T) {
	_, err := ParseConnectionString("ftp://host")
	require.Error(t, err)
}

func TestParseConnectionStringRejectsMissingHosts(t *testing.T) {
	_, err := ParseConnectionString("couchbase:///bucket")
	require.Error(t, err)
}

func TestParseConnectionStringRejectsEmpty(t *testing.T) {
	_, err := ParseConnectionString("")
	require.Error(t, err)
}
