package server

import (
	"context"
	"log/slog"

	"google.golang.org/protobuf/types/known/timestamppb"
	v1alpha1 "k8s.io/externaljwt/apis/v1alpha1"
)

// V1Alpha1Server serves the same key store to API servers that still speak
// the alpha signer protocol.
type V1Alpha1Server struct {
	v1alpha1.UnimplementedExternalJWTSignerServer

	logger *slog.Logger
	km     KeyManager
}

func NewV1Alpha1Server(logger *slog.Logger, km KeyManager) *V1Alpha1Server {
	return &V1Alpha1Server{
		logger: logger.With(slog.String("api-version", "v1alpha1")),
		km:     km,
	}
}

func (svr *V1Alpha1Server) Sign(ctx context.Context, req *v1alpha1.SignJWTRequest) (*v1alpha1.SignJWTResponse, error) {
	signed, err := svr.km.Sign(ctx, req.Claims)
	if err != nil {
		svr.logger.Error("failed to sign JWT", slog.String("method", "Sign"), slog.Any("error", err))
		return nil, signError(err)
	}
	svr.logger.Debug("signed JWT", slog.String("method", "Sign"), slog.String("key-id", signed.KeyID))

	return &v1alpha1.SignJWTResponse{Header: signed.Header, Signature: signed.Signature}, nil
}

func (svr *V1Alpha1Server) FetchKeys(ctx context.Context, req *v1alpha1.FetchKeysRequest) (*v1alpha1.FetchKeysResponse, error) {
	var keys []*v1alpha1.Key
	for _, publicKey := range svr.km.PublicKeys() {
		keys = append(keys, &v1alpha1.Key{KeyId: publicKey.KeyID, Key: publicKey.Key})
	}
	svr.logger.Debug("fetched keys", slog.String("method", "FetchKeys"), slog.Int("num-keys", len(keys)))

	return &v1alpha1.FetchKeysResponse{
		Keys:               keys,
		DataTimestamp:      timestamppb.New(svr.km.LastRotatedAt()),
		RefreshHintSeconds: refreshHintSeconds(svr.km),
	}, nil
}

func (svr *V1Alpha1Server) Metadata(ctx context.Context, req *v1alpha1.MetadataRequest) (*v1alpha1.MetadataResponse, error) {
	return &v1alpha1.MetadataResponse{
		MaxTokenExpirationSeconds: int64(svr.km.Expiration().Seconds()),
	}, nil
}
