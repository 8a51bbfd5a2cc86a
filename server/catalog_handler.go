package server

import (
	"net/http"
	"strconv"
	"strings"

	"Choirbook/core/catalog"
	"Choirbook/logger"

	"github.com/gorilla/mux"
)

// HomeHandler 已审批用户的首页
func (h *Handler) HomeHandler(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "home", newPage(r))
}

// LandingHandler lists the catalog, filtered by ?q= and ?letter=.
func (h *Handler) LandingHandler(w http.ResponseWriter, r *http.Request) {
	q := catalog.Query{
		Search: r.URL.Query().Get("q"),
		Letter: strings.ToUpper(r.URL.Query().Get("letter")),
	}.Normalized()

	pieces, err := h.catalog.ListPieces(r.Context(), q)
	if err != nil {
		h.serverError(w, r, "[Catalog]", err)
		return
	}

	data := newPage(r)
	data.Query = q.Search
	data.Letter = q.Letter
	data.Letters = catalog.Letters()
	data.Pieces = pieces
	h.renderPage(w, r, http.StatusOK, "landing", data)
}

// PieceDetailHandler 曲目详情：乐章、录音和乐谱
func (h *Handler) PieceDetailHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.renderError(w, r, http.StatusNotFound, "Piece not found.")
		return
	}

	detail, err := h.catalog.GetPieceDetail(r.Context(), id)
	if err != nil {
		if errorStatus(err) == http.StatusNotFound {
			logger.Debug("[Catalog] 曲目不存在", logger.Int64("id", id))
			h.renderError(w, r, http.StatusNotFound, "Piece not found.")
			return
		}
		h.serverError(w, r, "[Catalog]", err)
		return
	}

	data := newPage(r)
	data.Piece = detail
	h.renderPage(w, r, http.StatusOK, "piece", data)
}
