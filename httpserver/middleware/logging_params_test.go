/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vlimit/log"
)

func TestLoggingParams_ExtendFields(t *testing.T) {
	lp := &LoggingParams{}
	require.Empty(t, lp.Fields())

	lp.ExtendFields(log.String("vlimit_outcome", "admitted"))
	lp.ExtendFields(log.String("vlimit_reason", "ip_limit"), log.Int("vlimit_ip_count", 3))

	fields := lp.Fields()
	require.Equal(t, []log.Field{
		log.String("vlimit_outcome", "admitted"),
		log.String("vlimit_reason", "ip_limit"),
		log.Int("vlimit_ip_count", 3),
	}, fields)

	fields[0] = log.String("changed", "")
	require.Equal(t, "vlimit_outcome", lp.Fields()[0].Key)
}

func TestLoggingParams_MarkRejected(t *testing.T) {
	lp := &LoggingParams{}
	require.False(t, lp.Rejected())
	lp.MarkRejected()
	require.True(t, lp.Rejected())
}
