package ngdp

import (
	stdlog "log"
	"os"
	"testing"

	"github.com/go-logr/stdr"
	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	// This function is just a simple setter, no need for testing table
	testLogger := stdr.New(stdlog.New(os.Stdout, "test", stdlog.LstdFlags))
	SetLogger(testLogger)
	assert.Equal(t, testLogger, log, "setting package global logger was unsuccessful")
}

func TestGetLogger(t *testing.T) {
	// This function is just a simple getter, no need for testing table
	testLogger := GetLogger()
	assert.Equal(t, log, testLogger, "function did not return current logger")
}
