package routes

import (
	"github.com/gin-gonic/gin"

	handler "fiat-reconciliation-backend/internal/handlers"
)

func RegisterRoutes(r *gin.Engine, recon *handler.ReconciliationHandler, health *handler.HealthHandler) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", health.Health)

	// Reconciliation batch routes
	batches := api.Group("/reconciliation")
	batches.POST("/upload", recon.Upload)
	batches.POST("/parse", recon.Parse)
	batches.GET("/:batchId", recon.GetBatchProgress)
	batches.GET("/:batchId/transactions", recon.ListTransactions)
	batches.POST("/:batchId/bulk-confirm", recon.BulkConfirmMatched)

	// Transaction-level routes
	tx := api.Group("/transactions")
	tx.POST("/:id/confirm", recon.ConfirmTransaction)
	tx.POST("/:id/reject", recon.RejectTransaction)
	tx.POST("/:id/match", recon.ManualMatchTransaction)
	tx.POST("/:id/external", recon.MarkTransactionExternal)
	tx.GET("/:id/history", recon.TransactionHistory)

	// Invoice routes
	invoices := api.Group("/invoices")
	{
		invoices.GET("", recon.SearchInvoices)
		invoices.POST("", recon.CreateInvoice)
		invoices.POST("/upload", recon.UploadInvoices)
	}

	// Payout targets
	api.PUT("/titles", recon.UpsertTitle)
	api.GET("/titles/:id", recon.GetTitle)
	api.PUT("/quorum-nodes", recon.UpsertQuorumNode)
}
