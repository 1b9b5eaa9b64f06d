package livesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	callback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return callback, c
}

type MarketApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	mutex     sync.Mutex
	authToken string
}

func NewMarketApi(apiUrl string) *MarketApi {
	return NewMarketApiWithContext(context.Background(), apiUrl)
}

func NewMarketApiWithContext(ctx context.Context, apiUrl string) *MarketApi {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MarketApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *MarketApi) SetAuthToken(authToken string) {
	self.mutex.Lock()
	self.authToken = authToken
	self.mutex.Unlock()
}

func (self *MarketApi) getAuthToken() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.authToken
}

// Attach keeps the bearer token in step with the session.
// the returned func detaches.
func (self *MarketApi) Attach(session *SessionState) func() {
	return session.AddPropagateCallback(self.SetAuthToken)
}

type AuthLoginCallback = apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Token    string    `json:"token,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	Error    *ApiError `json:"error,omitempty"`
}

type ApiError struct {
	Message string `json:"message"`
}

func (self *MarketApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.getAuthToken(),
		&AuthLoginResult{},
		callback,
	)
}

func (self *MarketApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.getAuthToken(),
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type AuthRegisterCallback = apiCallback[*AuthRegisterResult]

type AuthRegisterArgs struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type AuthRegisterResult struct {
	Token    string    `json:"token,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	Error    *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) AuthRegister(authRegister *AuthRegisterArgs, callback AuthRegisterCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		authRegister,
		self.getAuthToken(),
		&AuthRegisterResult{},
		callback,
	)
}

type GetAdsCallback = apiCallback[*GetAdsResult]

type GetAdsResult struct {
	Ads []*Ad `json:"ads"`
}

func (self *MarketApi) GetAds(profileId int64, callback GetAdsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/profiles/%d/ads", self.apiUrl, profileId),
		self.getAuthToken(),
		&GetAdsResult{},
		callback,
	)
}

func (self *MarketApi) GetAdsSync(profileId int64) (*GetAdsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/profiles/%d/ads", self.apiUrl, profileId),
		self.getAuthToken(),
		&GetAdsResult{},
		NewNoopApiCallback[*GetAdsResult](),
	)
}

type AdCallback = apiCallback[*AdResult]

type AdResult struct {
	Ad    *Ad       `json:"ad,omitempty"`
	Error *ApiError `json:"error,omitempty"`
}

type CreateAdArgs struct {
	Title           string `json:"title"`
	Year            int    `json:"year"`
	Color           string `json:"color"`
	Mileage         int64  `json:"mileage"`
	Price           int64  `json:"price"`
	Gearbox         string `json:"gearbox"`
	InsuranceMonths int    `json:"insuranceMonths"`
	Chassis         string `json:"chassis"`
	ContactPhone    string `json:"contactPhone"`
	Description     string `json:"description"`
}

func (self *MarketApi) CreateAd(createAd *CreateAdArgs, callback AdCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/ads/create", self.apiUrl),
		createAd,
		self.getAuthToken(),
		&AdResult{},
		callback,
	)
}

type UpdateAdArgs struct {
	Id              int64  `json:"id"`
	Title           string `json:"title,omitempty"`
	Year            int    `json:"year,omitempty"`
	Color           string `json:"color,omitempty"`
	Mileage         int64  `json:"mileage,omitempty"`
	Price           int64  `json:"price,omitempty"`
	Gearbox         string `json:"gearbox,omitempty"`
	InsuranceMonths int    `json:"insuranceMonths,omitempty"`
	Chassis         string `json:"chassis,omitempty"`
	ContactPhone    string `json:"contactPhone,omitempty"`
	Description     string `json:"description,omitempty"`
}

func (self *MarketApi) UpdateAd(updateAd *UpdateAdArgs, callback AdCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/ads/update", self.apiUrl),
		updateAd,
		self.getAuthToken(),
		&AdResult{},
		callback,
	)
}

type RemoveAdCallback = apiCallback[*RemoveAdResult]

type RemoveAdArgs struct {
	Id int64 `json:"id"`
}

type RemoveAdResult struct {
	Error *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) RemoveAd(removeAd *RemoveAdArgs, callback RemoveAdCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/ads/remove", self.apiUrl),
		removeAd,
		self.getAuthToken(),
		&RemoveAdResult{},
		callback,
	)
}

type ViewAdCallback = apiCallback[*ViewAdResult]

type ViewAdArgs struct {
	Id int64 `json:"id"`
}

type ViewAdResult struct {
	ViewCount int64     `json:"viewCount"`
	Error     *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) ViewAd(viewAd *ViewAdArgs, callback ViewAdCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/ads/view", self.apiUrl),
		viewAd,
		self.getAuthToken(),
		&ViewAdResult{},
		callback,
	)
}

type GetBiographiesCallback = apiCallback[*GetBiographiesResult]

type GetBiographiesResult struct {
	Entries []*BiographyEntry `json:"entries"`
}

func (self *MarketApi) GetBiographies(profileId int64, callback GetBiographiesCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/profiles/%d/biographies", self.apiUrl, profileId),
		self.getAuthToken(),
		&GetBiographiesResult{},
		callback,
	)
}

func (self *MarketApi) GetBiographiesSync(profileId int64) (*GetBiographiesResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/profiles/%d/biographies", self.apiUrl, profileId),
		self.getAuthToken(),
		&GetBiographiesResult{},
		NewNoopApiCallback[*GetBiographiesResult](),
	)
}

type BiographyCallback = apiCallback[*BiographyResult]

type BiographyResult struct {
	Entry *BiographyEntry `json:"entry,omitempty"`
	Error *ApiError       `json:"error,omitempty"`
}

type SaveBiographyArgs struct {
	Id          int64  `json:"id,omitempty"`
	GroupKey    string `json:"groupKey,omitempty"`
	IsAdvanced  bool   `json:"isAdvanced"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Text        string `json:"text,omitempty"`
}

func (self *MarketApi) SaveBiography(saveBiography *SaveBiographyArgs, callback BiographyCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/biographies/save", self.apiUrl),
		saveBiography,
		self.getAuthToken(),
		&BiographyResult{},
		callback,
	)
}

type RemoveBiographyCallback = apiCallback[*RemoveBiographyResult]

type RemoveBiographyArgs struct {
	Id int64 `json:"id"`
}

type RemoveBiographyResult struct {
	Error *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) RemoveBiography(removeBiography *RemoveBiographyArgs, callback RemoveBiographyCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/biographies/remove", self.apiUrl),
		removeBiography,
		self.getAuthToken(),
		&RemoveBiographyResult{},
		callback,
	)
}

type GetUsersCallback = apiCallback[*GetUsersResult]

type UserSummary struct {
	Id          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type GetUsersResult struct {
	Users []*UserSummary `json:"users"`
}

func (self *MarketApi) GetUsers(callback GetUsersCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/admin/users", self.apiUrl),
		self.getAuthToken(),
		&GetUsersResult{},
		callback,
	)
}

type SetUserRoleCallback = apiCallback[*SetUserRoleResult]

type SetUserRoleArgs struct {
	UserId int64  `json:"userId"`
	Role   string `json:"role"`
}

type SetUserRoleResult struct {
	Error *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) SetUserRole(setUserRole *SetUserRoleArgs, callback SetUserRoleCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/admin/users/role", self.apiUrl),
		setUserRole,
		self.getAuthToken(),
		&SetUserRoleResult{},
		callback,
	)
}

type RemoveUserCallback = apiCallback[*RemoveUserResult]

type RemoveUserArgs struct {
	UserId int64 `json:"userId"`
}

type RemoveUserResult struct {
	Error *ApiError `json:"error,omitempty"`
}

func (self *MarketApi) RemoveUser(removeUser *RemoveUserArgs, callback RemoveUserCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/admin/users/remove", self.apiUrl),
		removeUser,
		self.getAuthToken(),
		&RemoveUserResult{},
		callback,
	)
}

type GetBroadcastHistoryCallback = apiCallback[*GetBroadcastHistoryResult]

type GetBroadcastHistoryResult struct {
	Messages []*BroadcastMessage `json:"messages"`
}

func (self *MarketApi) GetBroadcastHistory(callback GetBroadcastHistoryCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/broadcast/history", self.apiUrl),
		self.getAuthToken(),
		&GetBroadcastHistoryResult{},
		callback,
	)
}

func (self *MarketApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, authToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if authToken != "" {
		auth := fmt.Sprintf("Bearer %s", authToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error, in one of the backend's shapes
		err = errors.New(flattenErrorBody(responseBodyBytes))
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, authToken string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if authToken != "" {
		auth := fmt.Sprintf("Bearer %s", authToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		err = errors.New(flattenErrorBody(responseBodyBytes))
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
