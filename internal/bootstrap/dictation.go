package bootstrap

import (
	"lcars-os/internal/domain"
	"lcars-os/internal/jobs"
)

// StartDictation launches the dictation helper and returns the session id.
// An empty sessionID gets a generated one.
func (a *App) StartDictation(durationSecs float64, sessionID string) (string, error) {
	id, err := a.dictation.Start(a.requestContext(), durationSecs, sessionID)
	if err != nil {
		a.logger.Error().Err(err).Msg("Start dictation")
		return "", err
	}
	return id, nil
}

// PollDictation returns FINAL:<text>, PARTIAL:<text> or WAITING, or the
// helper's error message as an error.
func (a *App) PollDictation(sessionID string) (string, error) {
	return a.dictation.Poll(sessionID)
}

// StopDictation asks the helper to finish and write its transcript.
func (a *App) StopDictation(sessionID string) error {
	return a.dictation.Stop(sessionID)
}

// WaitDictation blocks until the helper exits and returns the transcript.
func (a *App) WaitDictation(sessionID string) (string, error) {
	return a.dictation.Wait(a.requestContext(), sessionID)
}

// CancelDictation kills the helper without waiting for a transcript.
func (a *App) CancelDictation(sessionID string) error {
	return a.dictation.Cancel(sessionID)
}

// CurrentDictation returns the host-side session state.
func (a *App) CurrentDictation() domain.DictationSession {
	return a.dictation.Current()
}

// DictationEvents returns all events with sequence greater than sinceSeq.
func (a *App) DictationEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// publishDictationUpdate stores a result-file change and pushes it to the UI.
func (a *App) publishDictationUpdate(update domain.DictationUpdate) {
	a.events.PublishUpdate(update)
	a.push(EventDictationUpdate, update)
}
