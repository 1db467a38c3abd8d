package riderepo

import (
	"testing"

	"github.com/Overland-East-Bay/ride-live-api/internal/adapters/contracttest"
	memuserrepo "github.com/Overland-East-Bay/ride-live-api/internal/adapters/memory/userrepo"
	riderepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	userrepoport "github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

func TestContract_RideRepo(t *testing.T) {
	contracttest.RunRideRepo(
		t,
		func(t *testing.T) (userrepoport.Repository, func()) {
			t.Helper()
			return memuserrepo.NewRepo(), nil
		},
		func(t *testing.T) (riderepoport.Repository, func()) {
			t.Helper()
			return NewRepo(), nil
		},
	)
}
