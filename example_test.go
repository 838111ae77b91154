package rtauth_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/greensec/rtauth"
	"github.com/redis/go-redis/v9"
)

func ExampleEngine_Refresh() {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := rtauth.DefaultConfig()
	cfg.JWT.AccessKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.RefreshKey = []byte("fedcba9876543210fedcba9876543210")

	engine, err := rtauth.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer engine.Close()

	ctx := context.Background()
	first, _ := engine.Login(ctx, "42", []string{"ROLE_USER"}, "10.0.0.1")
	second, _ := engine.Refresh(ctx, first.AccessToken, first.RefreshToken, "10.0.0.1")
	fmt.Println(second.RefreshToken == first.RefreshToken)

	_, err = engine.Refresh(ctx, first.AccessToken, first.RefreshToken, "10.0.0.1")
	fmt.Println(errors.Is(err, rtauth.ErrReauthenticate))

	_, err = engine.Authenticate(ctx, first.AccessToken)
	fmt.Println(errors.Is(err, rtauth.ErrUnauthenticated))
	// Output:
	// true
	// true
	// true
}
