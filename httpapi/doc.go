// Package httpapi serves an authcore Engine over HTTP with gin.
//
// Session tokens travel in the JSON body and in http-only SameSite=Lax cookies
// whose max-age equals the token lifetimes. Federation state and nonce live in
// short-lived cookies that are cleared on callback.
package httpapi
