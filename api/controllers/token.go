package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/fhe-autopay/api/responses"
	"github.com/angelmondragon/fhe-autopay/api/validators"
	pkgauth "github.com/angelmondragon/fhe-autopay/pkg/auth"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
)

type tokenRequest struct {
	Account string `json:"account" validate:"required,max=128"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Account     string `json:"account"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthToken mints an access token binding the caller to a ledger account.
// It stands in for a wallet connection and is only mounted outside prod.
func AuthToken(cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req tokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		account, err := pkgauth.NormalizeAccount(req.Account)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()))
			return
		}

		token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.AccessTokenPayload{Account: account})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint token"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tokenResponse{
			AccessToken: token,
			Account:     account,
			ExpiresIn:   cfg.ExpirationMinutes * 60,
		})
	}
}
