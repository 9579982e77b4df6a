// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailer sends transactional mail. The default implementation logs
// instead of sending; SMTP delivery hangs off the same interface.
package mailer

import (
	"context"
	"log/slog"
)

// Message is one outbound mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional messages. Failures are Upstream errors.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of delivering them. Used in development
// and as a safe default when no SMTP relay is configured.
type LogMailer struct{}

// NewLogMailer creates a logging mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send logs the message. The body is elided; invitation links must not land
// in logs.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "mail suppressed (log mailer)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("component", "mailer"))
	return nil
}
