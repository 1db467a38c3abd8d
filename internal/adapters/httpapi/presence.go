package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/presence"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/rooms"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

type RoomMember struct {
	UserID      domain.UserID `json:"userId"`
	Online      bool          `json:"online"`
	Connections int           `json:"connections"`
}

type RoomPresenceResponse struct {
	RideID  domain.RideID     `json:"rideId"`
	Status  domain.RideStatus `json:"status"`
	Members []RoomMember      `json:"members"`
}

type presenceAPI struct {
	rides    riderepo.Repository
	rooms    *rooms.Manager
	presence *presence.Registry
}

// getRoomPresence serves GET /rides/{rideId}/presence. Only the organizer and participants may
// look at a room.
func (p *presenceAPI) getRoomPresence(w http.ResponseWriter, r *http.Request) {
	var rideID string
	err := runtime.BindStyledParameterWithOptions("simple", "rideId", chi.URLParam(r, "rideId"), &rideID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || rideID == "" {
		writeError(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid rideId", map[string]any{"rideId": "required"})
		return
	}
	who, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, string(apperr.CodeUnauthenticated), "missing identity", nil)
		return
	}

	ride, err := p.rides.GetByID(r.Context(), domain.RideID(rideID))
	if err != nil {
		if errors.Is(err, riderepo.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, string(apperr.CodeRideNotFound), "ride not found", nil)
			return
		}
		p.storeFailure(w, r, err)
		return
	}
	if ride.OrganizerID != who.ID {
		part, err := p.rides.GetParticipant(r.Context(), ride.ID, who.ID)
		if err != nil && !errors.Is(err, riderepo.ErrParticipantNotFound) {
			p.storeFailure(w, r, err)
			return
		}
		if err != nil || part.Status.Blocked() {
			writeError(w, r, http.StatusForbidden, string(apperr.CodeNotParticipant), apperr.ErrNotParticipant.Message, nil)
			return
		}
	}

	resp := RoomPresenceResponse{RideID: ride.ID, Status: ride.Status, Members: []RoomMember{}}
	for _, id := range p.rooms.MembersOf(ride.ID) {
		n := len(p.presence.Lookup(id))
		resp.Members = append(resp.Members, RoomMember{UserID: id, Online: n > 0, Connections: n})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *presenceAPI) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("presence lookup failed")
	writeError(w, r, http.StatusServiceUnavailable, string(apperr.CodeStoreUnavailable), apperr.ErrStoreUnavailable.Message, nil)
}
