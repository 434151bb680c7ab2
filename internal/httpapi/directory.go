package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmacy/backend/internal/domain"
)

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if err := bindJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}

	product, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"product": product})
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductUpdateRequest
	if err := bindJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}

	product, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	id := c.Param("id")
	if err := a.service.DeleteProduct(c.Request.Context(), id); err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product_id": id, "deleted": true})
}

func (a *API) handleListCustomers(c *gin.Context) {
	customers, err := a.service.ListCustomers(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"customers": customers})
}

func (a *API) handleCreateCustomer(c *gin.Context) {
	var req domain.CustomerCreateRequest
	if err := bindJSON(c, &req); err != nil {
		a.writeError(c, err)
		return
	}

	customer, err := a.service.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"customer": customer})
}

func (a *API) handleGetCustomer(c *gin.Context) {
	customer, err := a.service.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"customer": customer})
}
