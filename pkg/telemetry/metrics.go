// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the Prometheus metrics emitted by the
// credential-issuance core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KMSAliasesExhausted counts decryption attempts where every configured
	// KMS alias failed. A non-zero rate during a key rotation window means
	// inbound JWEs were encrypted under a key no alias currently points at.
	KMSAliasesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credentis_kms_aliases_exhausted_total",
		Help: "Number of JWE decryptions that failed through every configured KMS alias.",
	})

	// SessionValidationFailures counts session-creation validation failures,
	// labeled by the specific cause for dashboard classification.
	SessionValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credentis_session_validation_failures_total",
		Help: "Number of session requests rejected by validation, by cause.",
	}, []string{"cause"})

	// TokensIssued counts successful access token issuances.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credentis_access_tokens_issued_total",
		Help: "Number of access tokens issued.",
	})

	// SessionsStarted counts successfully created sessions.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credentis_sessions_started_total",
		Help: "Number of sessions created.",
	})
)
