package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/types"
)

// Request errors
var (
	ErrMissingWeight = fmt.Errorf("%w: %s header is required", engine.ErrBadRequest, HeaderVoterWeight)
	ErrBadWeight     = fmt.Errorf("%w: %s must be an integer", engine.ErrBadRequest, HeaderVoterWeight)
	ErrBadBody       = fmt.Errorf("%w: malformed request body", engine.ErrBadRequest)
)

type errorResponse struct {
	Error string      `json:"error"`
	Kind  engine.Kind `json:"kind"`
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindForbidden:
		return http.StatusForbidden
	case engine.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	if kind == engine.KindInternal {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: msg, Kind: kind})
}

func decodeBody(r *http.Request, w http.ResponseWriter, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return nil
}

func voterID(r *http.Request) types.VoterID {
	return types.VoterID(r.Header.Get(HeaderVoterID))
}

// voterWeight parses the weight header. A missing header is an error only
// when required.
func voterWeight(r *http.Request, required bool) (int64, error) {
	raw := r.Header.Get(HeaderVoterWeight)
	if raw == "" {
		if required {
			return 0, ErrMissingWeight
		}
		return 0, nil
	}
	w, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrBadWeight
	}
	return w, nil
}

func pathProject(r *http.Request) types.ProjectID {
	return types.ProjectID(mux.Vars(r)["project"])
}

func pathKey(r *http.Request) types.ItemKey {
	return types.ItemKey(mux.Vars(r)["key"])
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p types.Project
	if err := decodeBody(r, w, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.eng.CreateProject(r.Context(), &p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.GetProject(r.Context(), pathProject(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) publishProject(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.PublishProject(r.Context(), pathProject(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type projectProposalBody struct {
	Values    map[types.ItemKey]json.RawMessage `json:"values"`
	Reference string                            `json:"reference,omitempty"`
}

func (s *Server) proposeProject(w http.ResponseWriter, r *http.Request) {
	var body projectProposalBody
	if err := decodeBody(r, w, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	weight, err := voterWeight(r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.eng.ProposeProject(r.Context(), engine.ProjectProposalRequest{
		Creator:       voterID(r),
		Project:       pathProject(r),
		Values:        body.Values,
		Reference:     body.Reference,
		CreatorWeight: weight,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, candidateViewOf(c, ""))
}

type itemProposalBody struct {
	Value     json.RawMessage `json:"value"`
	Reference string          `json:"reference,omitempty"`
}

func (s *Server) proposeItem(w http.ResponseWriter, r *http.Request) {
	var body itemProposalBody
	if err := decodeBody(r, w, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	weight, err := voterWeight(r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.eng.ProposeItem(r.Context(), engine.ItemProposalRequest{
		Creator:       voterID(r),
		Project:       pathProject(r),
		Key:           pathKey(r),
		Value:         body.Value,
		Reference:     body.Reference,
		CreatorWeight: weight,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, candidateViewOf(c, c.Key))
}

// candidateView is the wire form of either proposal kind. With a key set,
// Value holds that key's value; otherwise Values holds all of them.
type candidateView struct {
	Candidate types.CandidateRef                `json:"candidate"`
	Project   types.ProjectID                   `json:"project"`
	Creator   types.VoterID                     `json:"creator"`
	Value     json.RawMessage                   `json:"value,omitempty"`
	Values    map[types.ItemKey]json.RawMessage `json:"values,omitempty"`
	Reference string                            `json:"reference,omitempty"`
	CreatedAt time.Time                         `json:"created_at"`
}

func candidateViewOf(c types.Candidate, key types.ItemKey) candidateView {
	v := candidateView{
		Candidate: c.Ref(),
		Project:   c.OwnerProject(),
		Creator:   c.Creator(),
		Reference: c.Reference(),
		CreatedAt: c.CreatedAt(),
	}
	if key != "" {
		v.Value, _ = c.Value(key)
		return v
	}
	v.Values = make(map[types.ItemKey]json.RawMessage)
	for _, k := range c.Keys() {
		v.Values[k], _ = c.Value(k)
	}
	return v
}

func (s *Server) candidates(w http.ResponseWriter, r *http.Request) {
	key := pathKey(r)
	cs, err := s.eng.Candidates(r.Context(), pathProject(r), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]candidateView, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateViewOf(c, key))
	}
	writeJSON(w, http.StatusOK, out)
}

type voteBody struct {
	Candidate types.CandidateRef `json:"candidate"`
}

func (s *Server) voteRequest(w http.ResponseWriter, r *http.Request) (engine.VoteRequest, error) {
	var body voteBody
	if err := decodeBody(r, w, &body); err != nil {
		return engine.VoteRequest{}, err
	}
	weight, err := voterWeight(r, true)
	if err != nil {
		return engine.VoteRequest{}, err
	}
	return engine.VoteRequest{
		Voter:     voterID(r),
		Project:   pathProject(r),
		Key:       pathKey(r),
		Candidate: body.Candidate,
		Weight:    weight,
	}, nil
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	req, err := s.voteRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.eng.CastVote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) switchVote(w http.ResponseWriter, r *http.Request) {
	req, err := s.voteRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.eng.SwitchVote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) cancelVote(w http.ResponseWriter, r *http.Request) {
	err := s.eng.CancelVote(r.Context(), voterID(r), mux.Vars(r)["allocation"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type leaderResponse struct {
	Project types.ProjectID `json:"project"`
	Key     types.ItemKey   `json:"key"`
	Leader  *engine.Leader  `json:"leader"`
}

func (s *Server) leader(w http.ResponseWriter, r *http.Request) {
	project, key := pathProject(r), pathKey(r)
	l, err := s.eng.LeadingValue(r.Context(), project, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderResponse{Project: project, Key: key, Leader: l})
}

func (s *Server) totals(w http.ResponseWriter, r *http.Request) {
	t, err := s.eng.Totals(r.Context(), pathProject(r), pathKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	h, err := s.eng.History(r.Context(), pathProject(r), pathKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) voterAllocations(w http.ResponseWriter, r *http.Request) {
	as, err := s.eng.VoterAllocations(r.Context(), voterID(r), pathProject(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if as == nil {
		as = []*types.VoteAllocation{}
	}
	writeJSON(w, http.StatusOK, as)
}
