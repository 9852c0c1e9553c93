package workflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/alfredoluis848/ndvi-ingester/common"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/workflow"
)

var _ = Describe("Workflow.NewHandler", func() {
	var (
		backend *db.MemoryBackend
		handler http.Handler
	)

	get := func(url string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
		return w
	}

	BeforeEach(func() {
		backend = db.NewMemoryBackend()
		handler = workflow.NewWorkflow(backend, nil, nil, nil, nil).NewHandler()

		ctx := context.Background()
		Expect(backend.CreateRun(ctx, db.Run{ID: "r1", AOI: mokeArea(), State: common.RunProcessing})).To(Succeed())
		tileA, tileB := mokeTile("S2A_T31_A", 1), mokeTile("S2B_T31_B", 4)
		Expect(backend.CreateTile(ctx, "r1", tileA, common.StatusNEW)).To(Succeed())
		Expect(backend.CreateTile(ctx, "r1", tileB, common.StatusNEW)).To(Succeed())
		Expect(backend.UpdateTile(ctx, "r1", tileA.Key(), common.StatusDONE, nil, "file:///a.ndrs")).To(Succeed())
	})

	It("filters the tiles by status regardless of case", func() {
		for _, url := range []string{"/run/r1/tiles/done", "/run/r1/tiles/DONE"} {
			w := get(url)
			Expect(w.Code).To(Equal(200), url)
			var tiles []db.Tile
			Expect(json.Unmarshal(w.Body.Bytes(), &tiles)).To(Succeed())
			Expect(tiles).To(HaveLen(1), url)
			Expect(tiles[0].SourceID).To(Equal("S2A_T31_A"), url)
		}
	})

	It("rejects an unknown tile status", func() {
		Expect(get("/run/r1/tiles/bogus").Code).To(Equal(400))
	})

	It("lists every tile without a status filter", func() {
		w := get("/run/r1/tiles")
		Expect(w.Code).To(Equal(200))
		var tiles []db.Tile
		Expect(json.Unmarshal(w.Body.Bytes(), &tiles)).To(Succeed())
		Expect(tiles).To(HaveLen(2))
	})
})
