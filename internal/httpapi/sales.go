package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pharmacy/backend/internal/domain"
)

// Idempotency-Key is honoured when the body carries no key of its own.
const idempotencyHeader = "Idempotency-Key"

func (a *API) handleCreateSale(c *gin.Context) {
	var req domain.CreateSaleRequest
	if err := bindJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = c.GetHeader(idempotencyHeader)
	}

	resp, err := a.service.CreateSale(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(c, status, resp)
}

func (a *API) handleListSales(c *gin.Context) {
	sales, err := a.service.ListSales(c.Request.Context(), domain.ListSalesFilter{
		CustomerID: c.Query("customer_id"),
		Limit:      parsePositiveLimit(c.Query("limit"), 100, 500),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleGetSale(c *gin.Context) {
	view, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (a *API) handleEditSale(c *gin.Context) {
	var req domain.EditSaleRequest
	if err := bindJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}

	sale, err := a.service.EditSale(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sale": sale})
}

func (a *API) handleDeleteSale(c *gin.Context) {
	resp, err := a.service.DeleteSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}
