package sqlinline

const QCredentialGet = `--sql 5b0f6d1e-3c47-4a8e-9d21-7f64c2a8b915
select secret
from provider_credential
where provider = $1::text
  and kind = $2::text
limit 1;
`

const QCredentialUpsert = `--sql c3e9a472-18d5-4f0b-a6c3-2d915e7b40f8
insert into provider_credential (provider, kind, secret)
values ($1::text, $2::text, $3::text)
on conflict (provider, kind) do update
set secret = excluded.secret,
    updated_at = now();
`

const QCredentialListByKind = `--sql 9e27c8b1-6a04-4d3f-b58e-01c7f4a9d362
select provider, secret
from provider_credential
where kind = $1::text
order by provider;
`
