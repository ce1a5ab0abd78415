// Package handlers holds the demo application served behind the guard.
package handlers

import (
	"fmt"
	"io"
	"net/http"
)

func Home(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "RhinoGuard: Home OK")
}

func Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "Login received for %q", r.PostForm.Get("user"))
}

// Echo streams the request body back. Oversized bodies fail mid-read and
// the guard answers with 413.
func Echo(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(b)
}

func Flood(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Flood endpoint.")
}

// Crash panics so the fault path can be exercised
func Crash(w http.ResponseWriter, r *http.Request) {
	panic("handlers: crash endpoint hit")
}

// Routes registers the demo application on mux
func Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", Home)
	mux.HandleFunc("/login", Login)
	mux.HandleFunc("/echo", Echo)
	mux.HandleFunc("/flood", Flood)
	mux.HandleFunc("/crash", Crash)
}
