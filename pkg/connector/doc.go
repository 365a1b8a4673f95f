// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector connects the relay core to Mattermost.
//
// The bot watches its source channels over the Mattermost WebSocket and
// hands every post to the relay, which enriches it and sends it to the
// destination channels. Destinations may also be Matrix rooms, reached
// through the matrix sub-package.
//
// # Core Types
//
// [Client] is the bot's Mattermost session. It keeps a WebSocket open for
// incoming posts and uses the REST API to resolve channels, upload files
// and create posts. It implements [relay.Messenger].
//
// [Connector] owns the operator side: caption prompts with interactive
// buttons in the operator channel, the button callback, chat commands and
// the admin HTTP API. It implements [relay.Operator].
//
// [Router] picks Mattermost or Matrix for each destination ref.
//
// # Echo Prevention
//
// Posts written by the bot itself, system messages and posts from usernames
// carrying the configured bot prefix are never relayed, so two relay
// instances sharing a prefix cannot feed each other.
//
// # Sub-packages
//
//   - matrix is the optional Matrix leg (intake and delivery).
//   - matrixfmt converts Matrix HTML to Mattermost markdown.
//   - mattermostfmt converts Mattermost markdown to Matrix HTML.
package connector
