package call

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
)

// Broadcast event names of the signaling messages.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "ice-candidate"
)

type addressed struct {
	To   core.SessionID `json:"to"`
	From core.SessionID `json:"from"`
}

type offerPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
	addressed
}

type answerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
	addressed
}

type candidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	addressed
}

// Signal is one outbound offer, answer or candidate.
type Signal struct {
	Kind      string
	To        core.SessionID
	SDP       webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
}

func encodeSignal(from core.SessionID, s Signal) (json.RawMessage, error) {
	addr := addressed{To: s.To, From: from}
	switch s.Kind {
	case KindOffer:
		return json.Marshal(offerPayload{Offer: s.SDP, addressed: addr})
	case KindAnswer:
		return json.Marshal(answerPayload{Answer: s.SDP, addressed: addr})
	case KindCandidate:
		return json.Marshal(candidatePayload{Candidate: s.Candidate, addressed: addr})
	}
	return nil, fmt.Errorf("unknown signal kind %q", s.Kind)
}

// decodeSignal returns the event for a broadcast addressed to self, or nil
// when it is addressed to another session.
func decodeSignal(self core.SessionID, kind string, payload json.RawMessage) (Event, error) {
	var addr addressed
	if err := json.Unmarshal(payload, &addr); err != nil {
		return nil, err
	}
	if addr.To != self {
		return nil, nil
	}
	switch kind {
	case KindOffer:
		var p offerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return OfferReceived{From: addr.From, SDP: p.Offer}, nil
	case KindAnswer:
		var p answerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return AnswerReceived{From: addr.From, SDP: p.Answer}, nil
	case KindCandidate:
		var p candidatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return CandidateReceived{From: addr.From, Candidate: p.Candidate}, nil
	}
	return nil, fmt.Errorf("unknown signal kind %q", kind)
}
