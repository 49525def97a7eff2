// Package logging provides structured logging on top of Zap.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (trace_id, tenant, namespace, request id)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTenantID(ctx, "acme")
//	logger.Info(ctx, "query served", zap.Int("matches", n))
//
// Output includes the correlation fields:
//
//	{"ts":"2026-03-02T10:15:30Z","level":"info","msg":"query served",
//	 "trace_id":"abc123","tenant.id":"acme","matches":3}
//
// # Secrets
//
// Use Secret or RedactedString for values that must never be printed. The
// redacting encoder also masks fields named like api_key or token, and any
// string value matching a configured pattern.
//
// # Testing
//
//	logger := logging.NewTestLogger()
//	svc := NewService(logger.Logger)
//	logger.AssertLogged(t, zapcore.WarnLevel, "falling back")
//	logger.AssertNoSecrets(t)
package logging
