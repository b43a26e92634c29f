package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"idmcore/pkg/domain"
)

// Builtin entry identifiers.
var (
	UUIDSystemInfo = uuid.MustParse("00000000-0000-0000-0000-ffffff000001")
	UUIDAnonymous  = uuid.MustParse("00000000-0000-0000-0000-ffffffffffff")
	UUIDAdmin      = uuid.MustParse("00000000-0000-0000-0000-000000000000")
)

// SystemInfoVersion is the schema/data version recorded on system_info.
const SystemInfoVersion = 1

// identityAttrs are the attributes used to find an existing copy of a
// builtin entry.
var identityAttrs = []string{domain.AttrName, domain.AttrUUID}

// BuiltinSystemInfo returns the system_info entry.
func BuiltinSystemInfo() domain.Entry {
	return domain.NewEntry(
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassSystemInfo)),
		domain.A(domain.AttrUUID, domain.NewUUID(UUIDSystemInfo)),
		domain.A(domain.AttrDescription, domain.NewUtf8("System info and metadata object.")),
		domain.A(domain.AttrVersion, domain.NewUint32(SystemInfoVersion)),
	)
}

// BuiltinAnonymous returns the anonymous account.
func BuiltinAnonymous() domain.Entry {
	return domain.NewEntry(
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassAccount)),
		domain.A(domain.AttrUUID, domain.NewUUID(UUIDAnonymous)),
		domain.A(domain.AttrName, domain.NewIname("anonymous")),
		domain.A(domain.AttrDisplayName, domain.NewUtf8("Anonymous")),
		domain.A(domain.AttrDescription, domain.NewUtf8("Anonymous access account.")),
	)
}

// BuiltinAdmin returns the administrator account.
func BuiltinAdmin() domain.Entry {
	return domain.NewEntry(
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassAccount)),
		domain.A(domain.AttrUUID, domain.NewUUID(UUIDAdmin)),
		domain.A(domain.AttrName, domain.NewIname("admin")),
		domain.A(domain.AttrDisplayName, domain.NewUtf8("Administrator")),
		domain.A(domain.AttrDescription, domain.NewUtf8("Builtin administrator account.")),
	)
}

// Initialise brings the builtin entries to their expected state. Running it
// again, in this or a later transaction, changes nothing.
func (t *WriteTransaction) Initialise(ctx context.Context) error {
	if err := t.InternalAssertOrCreate(ctx, BuiltinSystemInfo()); err != nil {
		return fmt.Errorf("system_info: %w", err)
	}
	if err := t.InternalMigrateOrCreate(ctx, BuiltinAnonymous()); err != nil {
		return fmt.Errorf("anonymous: %w", err)
	}
	if err := t.InternalMigrateOrCreate(ctx, BuiltinAdmin()); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	t.server.logger.Info("builtin entries initialised")
	return nil
}

// InternalExistsOrCreate creates e unless an entry with the same name and
// uuid already exists.
func (t *WriteTransaction) InternalExistsOrCreate(ctx context.Context, e domain.Entry) error {
	f, err := e.FilterFromAttrs(identityAttrs)
	if err != nil {
		return t.fail(err)
	}
	found, err := t.InternalExists(ctx, f)
	if err != nil {
		return t.fail(err)
	}
	if found {
		return nil
	}
	return t.InternalCreate(ctx, []domain.Entry{e})
}

// InternalMigrateOrCreate creates e when absent. Otherwise it adds e's values
// to the existing entry: single-valued attributes take e's value and
// multi-valued attributes gain e's values, while attributes e does not name
// are left alone.
func (t *WriteTransaction) InternalMigrateOrCreate(ctx context.Context, e domain.Entry) error {
	existing, f, err := t.lookupBuiltin(ctx, e)
	if err != nil || existing == nil {
		if err != nil {
			return err
		}
		return t.InternalCreate(ctx, []domain.Entry{e})
	}
	var ml domain.ModifyList
	for _, attr := range e.AttributeNames() {
		if attr == domain.AttrUUID {
			continue
		}
		values := e.Get(attr)
		if !t.schema.IsMultivalue(attr) && len(values) == 1 {
			if !existing.Attrs[attr].Equal(domain.NewValueSet(values...)) {
				ml = append(ml, domain.PurgeAndSet(attr, values[0]))
			}
			continue
		}
		for _, v := range values {
			if !existing.AttributeEquality(attr, domain.PartialFromValue(v)) {
				ml = append(ml, domain.Present(attr, v))
			}
		}
	}
	if len(ml) == 0 {
		return nil
	}
	return t.InternalModify(ctx, f, ml)
}

// InternalAssertOrCreate creates e when absent. Otherwise it rewrites the
// existing entry so that every attribute other than uuid matches e exactly,
// purging attributes e does not carry.
func (t *WriteTransaction) InternalAssertOrCreate(ctx context.Context, e domain.Entry) error {
	existing, f, err := t.lookupBuiltin(ctx, e)
	if err != nil || existing == nil {
		if err != nil {
			return err
		}
		return t.InternalCreate(ctx, []domain.Entry{e})
	}
	var ml domain.ModifyList
	for _, attr := range existing.AttributeNames() {
		if attr != domain.AttrUUID && !e.Has(attr) {
			ml = append(ml, domain.Purge(attr))
		}
	}
	for _, attr := range e.AttributeNames() {
		if attr == domain.AttrUUID || existing.Attrs[attr].Equal(e.Attrs[attr]) {
			continue
		}
		ml = append(ml, domain.Purge(attr))
		for _, v := range e.Get(attr) {
			ml = append(ml, domain.Present(attr, v))
		}
	}
	if len(ml) == 0 {
		return nil
	}
	return t.InternalModify(ctx, f, ml)
}

// lookupBuiltin finds the single existing copy of e. It returns a nil entry
// when there is none.
func (t *WriteTransaction) lookupBuiltin(ctx context.Context, e domain.Entry) (*domain.Entry, domain.Filter, error) {
	f, err := e.FilterFromAttrs(identityAttrs)
	if err != nil {
		return nil, f, t.fail(err)
	}
	found, err := t.InternalSearch(ctx, f)
	if err != nil {
		return nil, f, t.fail(err)
	}
	switch len(found) {
	case 0:
		return nil, f, nil
	case 1:
		return &found[0], f, nil
	default:
		return nil, f, t.fail(domain.ErrStore.New("%d entries match %s", len(found), f))
	}
}
