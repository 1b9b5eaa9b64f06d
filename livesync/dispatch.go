package livesync

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

// Dispatcher translates user intents into backend calls, feeding optimistic
// updates into the synchronizers before the server confirms. each write runs:
// validate locally, gate on role, apply optimistic, call, then reconcile on
// success or roll back on failure. validation failures never reach the wire.

// per pending action: actionPending -> actionConfirmed | actionRolledBack
type actionState int

const (
	actionPending actionState = iota
	actionConfirmed
	actionRolledBack
)

type pendingAction struct {
	tempKey string
	state   actionState
}

type Dispatcher struct {
	api         *MarketApi
	session     *SessionState
	ads         *Synchronizer[*Ad]
	biographies *Synchronizer[*BiographyEntry]
	stats       *StatCollector

	mutex   sync.Mutex
	pending map[string]*pendingAction
}

func NewDispatcher(
	api *MarketApi,
	session *SessionState,
	ads *Synchronizer[*Ad],
	biographies *Synchronizer[*BiographyEntry],
) *Dispatcher {
	return NewDispatcherWithStats(api, session, ads, biographies, nil)
}

func NewDispatcherWithStats(
	api *MarketApi,
	session *SessionState,
	ads *Synchronizer[*Ad],
	biographies *Synchronizer[*BiographyEntry],
	stats *StatCollector,
) *Dispatcher {
	return &Dispatcher{
		api:         api,
		session:     session,
		ads:         ads,
		biographies: biographies,
		stats:       stats,
		pending:     map[string]*pendingAction{},
	}
}

func (self *Dispatcher) identity() (*Identity, error) {
	_, identity := self.session.GetSession()
	if identity == nil {
		return nil, ErrNoSession
	}
	return identity, nil
}

func (self *Dispatcher) trackPending(tempKey string) {
	self.mutex.Lock()
	self.pending[tempKey] = &pendingAction{
		tempKey: tempKey,
		state:   actionPending,
	}
	self.mutex.Unlock()
}

func (self *Dispatcher) settlePending(tempKey string, state actionState) {
	self.mutex.Lock()
	if action, ok := self.pending[tempKey]; ok {
		action.state = state
		delete(self.pending, tempKey)
	}
	self.mutex.Unlock()
}

func (self *Dispatcher) PendingCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.pending)
}

func validateCreateAd(args *CreateAdArgs) FieldErrors {
	fieldErrors := FieldErrors{}
	if args.Title == "" {
		fieldErrors = append(fieldErrors, FieldError{Field: "title", Message: "required"})
	}
	if args.Year == 0 {
		fieldErrors = append(fieldErrors, FieldError{Field: "year", Message: "required"})
	}
	if args.Price <= 0 {
		fieldErrors = append(fieldErrors, FieldError{Field: "price", Message: "must be positive"})
	}
	if args.ContactPhone == "" {
		fieldErrors = append(fieldErrors, FieldError{Field: "contactPhone", Message: "required"})
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// CreateAd applies the new ad optimistically under a temp key, then replaces
// it with the server entity on confirmation, or drops it and surfaces the
// flattened server message on rejection. the immediate return covers only
// client-detectable failures; the async outcome arrives on `callback`.
func (self *Dispatcher) CreateAd(args *CreateAdArgs, callback func(ad *Ad, err error)) error {
	if fieldErrors := validateCreateAd(args); fieldErrors != nil {
		return fieldErrors
	}
	identity, err := self.identity()
	if err != nil {
		return err
	}

	tempKey := NewTempKey()
	optimistic := &Ad{
		OwnerId:         identity.UserId,
		Title:           args.Title,
		Year:            args.Year,
		Color:           args.Color,
		Mileage:         args.Mileage,
		Price:           args.Price,
		Gearbox:         args.Gearbox,
		InsuranceMonths: args.InsuranceMonths,
		Chassis:         args.Chassis,
		ContactPhone:    args.ContactPhone,
		Description:     args.Description,
		CreatedAt:       nowUtc(),
	}
	self.ads.ApplyOptimistic(tempKey, optimistic)
	self.trackPending(tempKey)

	self.api.CreateAd(args, NewApiCallback(func(result *AdResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		if err == nil && (result == nil || result.Ad == nil) {
			err = errors.New("empty create response")
		}
		if err != nil {
			glog.V(1).Infof("[dispatch]create ad rolled back = %s\n", err)
			self.ads.RollbackOptimistic(tempKey)
			self.settlePending(tempKey, actionRolledBack)
			callback(nil, err)
			return
		}
		self.ads.ReconcileOptimistic(tempKey, result.Ad)
		self.settlePending(tempKey, actionConfirmed)
		callback(result.Ad, nil)
	}))
	return nil
}

func validateUpdateAd(args *UpdateAdArgs) FieldErrors {
	fieldErrors := FieldErrors{}
	if args.Id == 0 {
		fieldErrors = append(fieldErrors, FieldError{Field: "id", Message: "required"})
	}
	if args.Price < 0 {
		fieldErrors = append(fieldErrors, FieldError{Field: "price", Message: "must be positive"})
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// UpdateAd requires ownership or admin role. the edit is applied locally
// first and restored from the prior value if the server rejects it.
func (self *Dispatcher) UpdateAd(args *UpdateAdArgs, callback func(ad *Ad, err error)) error {
	if fieldErrors := validateUpdateAd(args); fieldErrors != nil {
		return fieldErrors
	}
	identity, err := self.identity()
	if err != nil {
		return err
	}
	prior, ok := self.ads.Get(args.Id)
	if !ok {
		return errors.New("unknown ad")
	}
	if prior.OwnerId != identity.UserId && !identity.AtLeast(RoleAdmin) {
		return ErrNotAuthorized
	}

	edited := mergeAd(prior, &Ad{
		Id:              args.Id,
		Title:           args.Title,
		Year:            args.Year,
		Color:           args.Color,
		Mileage:         args.Mileage,
		Price:           args.Price,
		Gearbox:         args.Gearbox,
		InsuranceMonths: args.InsuranceMonths,
		Chassis:         args.Chassis,
		ContactPhone:    args.ContactPhone,
		Description:     args.Description,
	})
	self.ads.Replace(edited)
	self.ads.MarkLocalWrite(args.Id)
	tempKey := NewTempKey()
	self.trackPending(tempKey)

	self.api.UpdateAd(args, NewApiCallback(func(result *AdResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		if err != nil {
			glog.V(1).Infof("[dispatch]update ad %d rolled back = %s\n", args.Id, err)
			self.ads.Restore(prior)
			self.settlePending(tempKey, actionRolledBack)
			self.stats.RecordRollback()
			callback(nil, err)
			return
		}
		if result.Ad != nil {
			// authoritative row wins over the local merge
			self.ads.Restore(result.Ad)
		}
		self.settlePending(tempKey, actionConfirmed)
		callback(result.Ad, nil)
	}))
	return nil
}

// DeleteAd removes locally first and restores the row if the server rejects
func (self *Dispatcher) DeleteAd(adId int64, callback func(err error)) error {
	identity, err := self.identity()
	if err != nil {
		return err
	}
	prior, ok := self.ads.Get(adId)
	if !ok {
		return errors.New("unknown ad")
	}
	if prior.OwnerId != identity.UserId && !identity.AtLeast(RoleAdmin) {
		return ErrNotAuthorized
	}

	self.ads.ApplyDelete(adId)
	tempKey := NewTempKey()
	self.trackPending(tempKey)

	self.api.RemoveAd(&RemoveAdArgs{Id: adId}, NewApiCallback(func(result *RemoveAdResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		if err != nil {
			glog.V(1).Infof("[dispatch]delete ad %d rolled back = %s\n", adId, err)
			self.ads.Restore(prior)
			self.settlePending(tempKey, actionRolledBack)
			self.stats.RecordRollback()
			callback(err)
			return
		}
		self.settlePending(tempKey, actionConfirmed)
		callback(nil)
	}))
	return nil
}

// ViewAd bumps the counter immediately and fires the increment call without
// waiting: the caller proceeds to the detail view regardless. a failed call
// is only logged; the next counter event or reload corrects the value.
func (self *Dispatcher) ViewAd(adId int64) {
	ad, ok := self.ads.Get(adId)
	if !ok {
		return
	}
	self.ads.BumpCounter(adId, ad.ViewCount+1)

	self.api.ViewAd(&ViewAdArgs{Id: adId}, NewApiCallback(func(result *ViewAdResult, err error) {
		if err != nil {
			glog.V(1).Infof("[dispatch]view ad %d = %s\n", adId, err)
			return
		}
		if result != nil && result.Error == nil {
			self.ads.BumpCounter(adId, result.ViewCount)
		}
	}))
}

func validateSaveBiography(args *SaveBiographyArgs) FieldErrors {
	fieldErrors := FieldErrors{}
	if args.IsAdvanced {
		if args.Title == "" {
			fieldErrors = append(fieldErrors, FieldError{Field: "title", Message: "required"})
		}
		if args.Description == "" {
			fieldErrors = append(fieldErrors, FieldError{Field: "description", Message: "required"})
		}
	} else {
		if args.Text == "" {
			fieldErrors = append(fieldErrors, FieldError{Field: "text", Message: "required"})
		}
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// SaveBiography creates or updates one variant of a biography slot
func (self *Dispatcher) SaveBiography(args *SaveBiographyArgs, callback func(entry *BiographyEntry, err error)) error {
	if fieldErrors := validateSaveBiography(args); fieldErrors != nil {
		return fieldErrors
	}
	identity, err := self.identity()
	if err != nil {
		return err
	}

	var tempKey string
	var prior *BiographyEntry
	if args.Id == 0 {
		tempKey = NewTempKey()
		self.biographies.ApplyOptimistic(tempKey, &BiographyEntry{
			OwnerId:     identity.UserId,
			GroupKey:    args.GroupKey,
			IsAdvanced:  args.IsAdvanced,
			Title:       args.Title,
			Description: args.Description,
			Contact:     args.Contact,
			Text:        args.Text,
			CreatedAt:   nowUtc(),
			UpdatedAt:   nowUtc(),
		})
	} else {
		existing, ok := self.biographies.Get(args.Id)
		if !ok {
			return errors.New("unknown biography entry")
		}
		if existing.OwnerId != identity.UserId && !identity.AtLeast(RoleAdmin) {
			return ErrNotAuthorized
		}
		prior = existing
		tempKey = NewTempKey()
		edited := mergeBiography(existing, &BiographyEntry{
			Id:          args.Id,
			Title:       args.Title,
			Description: args.Description,
			Contact:     args.Contact,
			Text:        args.Text,
			UpdatedAt:   nowUtc(),
		})
		self.biographies.Replace(edited)
		self.biographies.MarkLocalWrite(args.Id)
	}
	self.trackPending(tempKey)

	self.api.SaveBiography(args, NewApiCallback(func(result *BiographyResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		if err == nil && (result == nil || result.Entry == nil) {
			err = errors.New("empty save response")
		}
		if err != nil {
			glog.V(1).Infof("[dispatch]save biography rolled back = %s\n", err)
			if prior != nil {
				self.biographies.Restore(prior)
				self.stats.RecordRollback()
			} else {
				self.biographies.RollbackOptimistic(tempKey)
			}
			self.settlePending(tempKey, actionRolledBack)
			callback(nil, err)
			return
		}
		if prior != nil {
			self.biographies.Restore(result.Entry)
		} else {
			self.biographies.ReconcileOptimistic(tempKey, result.Entry)
		}
		self.settlePending(tempKey, actionConfirmed)
		callback(result.Entry, nil)
	}))
	return nil
}

// DeleteBiography removes locally first, restoring on rejection
func (self *Dispatcher) DeleteBiography(entryId int64, callback func(err error)) error {
	identity, err := self.identity()
	if err != nil {
		return err
	}
	prior, ok := self.biographies.Get(entryId)
	if !ok {
		return errors.New("unknown biography entry")
	}
	if prior.OwnerId != identity.UserId && !identity.AtLeast(RoleAdmin) {
		return ErrNotAuthorized
	}

	self.biographies.ApplyDelete(entryId)
	tempKey := NewTempKey()
	self.trackPending(tempKey)

	self.api.RemoveBiography(&RemoveBiographyArgs{Id: entryId}, NewApiCallback(func(result *RemoveBiographyResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		if err != nil {
			self.biographies.Restore(prior)
			self.settlePending(tempKey, actionRolledBack)
			self.stats.RecordRollback()
			callback(err)
			return
		}
		self.settlePending(tempKey, actionConfirmed)
		callback(nil)
	}))
	return nil
}

// SetUserRole is gated on SuperAdmin client-side where the role is known;
// the server enforces it regardless and both paths surface the same way.
func (self *Dispatcher) SetUserRole(userId int64, role Role, callback func(err error)) error {
	identity, err := self.identity()
	if err != nil {
		return err
	}
	if !identity.AtLeast(RoleSuperAdmin) {
		return ErrNotAuthorized
	}

	self.api.SetUserRole(&SetUserRoleArgs{
		UserId: userId,
		Role:   role.String(),
	}, NewApiCallback(func(result *SetUserRoleResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		callback(err)
	}))
	return nil
}

// RemoveUser is gated on Admin
func (self *Dispatcher) RemoveUser(userId int64, callback func(err error)) error {
	identity, err := self.identity()
	if err != nil {
		return err
	}
	if !identity.AtLeast(RoleAdmin) {
		return ErrNotAuthorized
	}

	self.api.RemoveUser(&RemoveUserArgs{
		UserId: userId,
	}, NewApiCallback(func(result *RemoveUserResult, err error) {
		if err == nil && result != nil && result.Error != nil {
			err = errors.New(result.Error.Message)
		}
		callback(err)
	}))
	return nil
}
