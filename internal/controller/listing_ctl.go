package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Akinlua/autods/internal/repository"
)

// ListingController 上架记录查询接口
type ListingController struct {
	listingRepo repository.ListingRepository
}

func NewListingController(listingRepo repository.ListingRepository) *ListingController {
	return &ListingController{listingRepo: listingRepo}
}

// GetListings 分页查询上架记录
// GET /api/listings?active=true&page=1&page_size=20
func (ctrl *ListingController) GetListings(c *gin.Context) {
	filter := repository.ListingFilter{
		Page:     1,
		PageSize: 20,
	}

	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page 必须是正整数"})
			return
		}
		filter.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page_size 必须是正整数"})
			return
		}
		filter.PageSize = size
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active 必须是布尔值"})
			return
		}
		filter.Active = &active
	}

	listings, total, err := ctrl.listingRepo.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
		"items":     listings,
	})
}
