package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Limiters throttles the public POST endpoints that send mail or create
// orders.
type Limiters struct {
	Checkout  *RateLimiter
	Purchases *RateLimiter
}

func DefaultLimiters() Limiters {
	return Limiters{
		Checkout:  NewRateLimiter(10 * time.Second),
		Purchases: NewRateLimiter(1 * time.Minute),
	}
}

// Handler wraps the router in the middleware every request passes through.
// protect is the CSRF middleware; nil leaves it out.
func Handler(mux http.Handler, protect func(http.Handler) http.Handler) http.Handler {
	h := mux
	if protect != nil {
		h = protect(h)
	}
	// Chain: Logger -> Security Headers -> Upload bounds -> CSRF -> Mux
	return LoggingMiddleware(
		SecurityHeadersMiddleware(
			ChatUploadMiddleware(h),
		),
	)
}

// NewRouter registers every route. Wrap the result with Handler.
func NewRouter(home *HomeHandler, orders *OrderHandler, admin *AdminHandler, limits Limiters, mediaDir string) *http.ServeMux {
	mux := http.NewServeMux()

	// Uploaded media
	fileServer := http.FileServer(http.Dir(mediaDir))
	mux.Handle("GET /media/", http.StripPrefix("/media", fileServer))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Public Routes
	mux.HandleFunc("GET /{$}", home.Index)
	mux.HandleFunc("GET /cart", orders.ViewCart)
	mux.HandleFunc("POST /cart/add/{id}", orders.AddToCart)
	mux.HandleFunc("POST /cart/update/{id}", orders.UpdateCart)
	mux.HandleFunc("POST /cart/remove/{id}", orders.RemoveFromCart)
	mux.HandleFunc("GET /checkout", orders.CheckoutForm)
	mux.HandleFunc("POST /checkout", limits.Checkout.Middleware(orders.SubmitCheckout))

	// Token access
	mux.HandleFunc("GET /delivery/{token}", orders.Delivery)
	mux.HandleFunc("GET /delivery/{token}/chat", orders.ChatThread)
	mux.HandleFunc("POST /delivery/{token}/chat", orders.PostChat)
	mux.HandleFunc("GET /purchases", orders.RequestPurchasesLink)
	mux.HandleFunc("POST /purchases", limits.Purchases.Middleware(orders.SendPurchasesLink))
	mux.HandleFunc("GET /purchases/{token}", orders.MyPurchases)

	mux.HandleFunc("GET /login", admin.LoginGet)
	mux.HandleFunc("POST /login", admin.LoginPost)
	mux.HandleFunc("GET /logout", admin.Logout)

	// Protected Routes
	mux.HandleFunc("GET /admin", admin.AuthMiddleware(admin.Dashboard))
	mux.HandleFunc("GET /admin/orders", admin.AuthMiddleware(admin.ListOrders))
	mux.HandleFunc("GET /admin/orders/{id}", admin.AuthMiddleware(admin.ViewOrder))
	mux.HandleFunc("POST /admin/orders/{id}/chat", admin.AuthMiddleware(admin.PostChat))
	mux.HandleFunc("POST /admin/orders/{id}/status", admin.AuthMiddleware(admin.UpdateOrderStatus))

	mux.HandleFunc("GET /admin/items", admin.AuthMiddleware(admin.ListItems))
	mux.HandleFunc("GET /admin/items/new", admin.AuthMiddleware(admin.AddItemForm))
	mux.HandleFunc("POST /admin/items", admin.AuthMiddleware(admin.CreateItem))
	mux.HandleFunc("GET /admin/items/{id}/edit", admin.AuthMiddleware(admin.EditItemForm))
	mux.HandleFunc("POST /admin/items/{id}", admin.AuthMiddleware(admin.UpdateItem))
	mux.HandleFunc("POST /admin/items/{id}/delete", admin.AuthMiddleware(admin.DeleteItem))
	mux.HandleFunc("POST /admin/items/{id}/keys", admin.AuthMiddleware(admin.ImportKeys))
	mux.HandleFunc("POST /admin/items/{id}/credentials", admin.AuthMiddleware(admin.AddCredential))
	mux.HandleFunc("POST /admin/items/{id}/credentials/{cid}/delete", admin.AuthMiddleware(admin.DeleteCredential))

	return mux
}
