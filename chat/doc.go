// Package chat watches live chat for campaign links.
//
// A Tracker polls a LiveProbe for one platform and emits StreamStarted and
// StreamEnded on confirmed transitions; probe failures leave the state alone.
// A Watcher reads one live session's chat through a Source, runs every message
// through a linkmatch.Matcher and emits LinkObserved for each match, including
// reposts of links it has already seen that day. Poll cadence backs off while
// the chat is quiet.
//
// Twitch chat is read over IRC with a bot account token (chat:read). YouTube
// chat is read through the Data API liveChatMessages endpoint, honoring the
// server's polling interval. Both are exposed as Sources so the watcher does
// not know which platform it reads.
package chat
