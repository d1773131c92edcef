package apirecordsv1

import (
	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/service"
)

// Build mounts the records API below v1. Keys cannot contain ':', box reads
// it as the action separator.
func Build(v1 *box.R, s service.Servicer) *box.R {

	collection := v1.Resource("/collections/{collection}").
		WithActions(
			box.ActionPost(find).WithName("find"),
			box.ActionPost(selectRecords).WithName("select"),
			box.ActionPost(selectWithin).WithName("selectWithin"),
			box.ActionPost(selectNear).WithName("selectNear"),
			box.ActionPost(selectQuery).WithName("selectQuery"),
			box.ActionPost(reset).WithName("reset"),
		)

	collection.Resource("/records").
		WithActions(
			box.Post(insert),
			box.Get(listRecords),
		)

	collection.Resource("/records/{key}").
		WithActions(
			box.Get(lookup),
			box.Delete(remove),
			box.ActionPost(applyUpdate).WithName("update"),
			box.ActionPost(updateConditional).WithName("updateConditional"),
			box.ActionPost(removeKeys).WithName("removeKeys"),
			box.Action(contains).WithName("contains"),
		)

	collection.Resource("/records/{key}/values").
		WithActions(
			box.Put(replaceValues),
			box.Patch(updateFields),
		)

	return collection.WithInterceptors(injectServicer(s))
}
